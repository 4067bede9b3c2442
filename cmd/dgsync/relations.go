package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

var relationsCmd = &cobra.Command{
	Use:     "relations",
	GroupID: "graph",
	Short:   "Manage relations between discourse nodes",
}

var relationsAddCmd = &cobra.Command{
	Use:   "add <source.md> <relation> <destination.md>",
	Short: "Relate two nodes",
	Long: `Add a relation between two discourse nodes.

The relation is a relation type id, its label or its complement label.
A complement label adds the relation in the other direction:
  dgsync relations add Claim.md supports Evidence.md
  dgsync relations add Evidence.md "is supported by" Claim.md`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()

		p, err := resolveRelation(a.store, a.schema, a.cfg.Vault.Path, args[0], args[1], args[2])
		if err != nil {
			fail("%v", err)
		}
		author, err := a.accountLocalID()
		if err != nil {
			fail("%v", err)
		}
		p.Author = author

		res, err := a.relations.Add(p)
		if err != nil {
			fail("%v", err)
		}
		if res.AlreadyExisted {
			fmt.Printf("%s Relation already exists (%s)\n", renderWarn("⚠"), res.ID)
			return
		}
		fmt.Printf("%s Added relation %s\n", renderPass("✓"), res.ID)
	},
}

var relationsRmCmd = &cobra.Command{
	Use:     "rm <source.md> <relation> <destination.md>",
	Aliases: []string{"remove"},
	Short:   "Remove a relation between two nodes",
	Args:    cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()

		p, err := resolveRelation(a.store, a.schema, a.cfg.Vault.Path, args[0], args[1], args[2])
		if err != nil {
			fail("%v", err)
		}
		n, err := a.relations.RemoveByTriple(p.Source, p.Destination, p.Type)
		if err != nil {
			fail("%v", err)
		}
		if n == 0 {
			fmt.Printf("%s No matching relation\n", renderWarn("⚠"))
			return
		}
		fmt.Printf("%s Removed %d relation(s)\n", renderPass("✓"), n)
	},
}

var relationsLsCmd = &cobra.Command{
	Use:     "ls [file.md]",
	Aliases: []string{"list"},
	Short:   "List relations, optionally only those touching one node",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()

		var rels []relations.Relation
		if len(args) == 1 {
			node, err := nodeFor(a.store, a.cfg.Vault.Path, args[0])
			if err != nil {
				fail("%v", err)
			}
			rels = a.relations.ForNode(node.NodeInstanceID)
		} else {
			for _, r := range a.relations.Load().Relations {
				rels = append(rels, r)
			}
			relations.SortByCreated(rels)
		}
		if len(rels) == 0 {
			fmt.Println("No relations")
			return
		}

		titles, err := titlesByID(a.store)
		if err != nil {
			fail("%v", err)
		}
		rows := make([][]string, 0, len(rels))
		for _, r := range rels {
			label := r.Type
			if rt, ok := a.schema.RelationType(r.Type); ok {
				label = rt.Label
			}
			created := time.UnixMilli(r.Created).Format("2006-01-02")
			if r.Imported() {
				created += " " + renderMuted("(imported)")
			}
			rows = append(rows, []string{nodeLabel(titles, r.Source), label, nodeLabel(titles, r.Destination), created})
		}
		fmt.Println(renderTable([]string{"Source", "Relation", "Destination", "Created"}, rows))
	},
}

// vaultPath turns a command line path into a vault-relative markdown path.
func vaultPath(root, arg string) (string, error) {
	p := arg
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%s is outside the vault", arg)
		}
		p = rel
	}
	if !vault.IsMarkdown(p) {
		p += ".md"
	}
	return vault.Clean(filepath.ToSlash(p)), nil
}

func nodeFor(s vault.Store, root, arg string) (vault.Node, error) {
	p, err := vaultPath(root, arg)
	if err != nil {
		return vault.Node{}, err
	}
	if !s.Exists(p) {
		return vault.Node{}, fmt.Errorf("%s does not exist", p)
	}
	node, ok, err := vault.NodeAt(s, p)
	if err != nil {
		return vault.Node{}, err
	}
	if !ok {
		return vault.Node{}, fmt.Errorf("%s is not a discourse node (no nodeTypeId)", p)
	}
	return node, nil
}

// relationTypeFor matches an id, then a label, then a complement label.
// The second result is true for a complement match.
func relationTypeFor(reg *schema.Registry, name string) (schema.RelationType, bool, bool) {
	if rt, ok := reg.RelationType(name); ok {
		return rt, false, true
	}
	types := reg.RelationTypes()
	for _, rt := range types {
		if strings.EqualFold(rt.Label, name) {
			return rt, false, true
		}
	}
	for _, rt := range types {
		if strings.EqualFold(rt.Complement, name) {
			return rt, true, true
		}
	}
	return schema.RelationType{}, false, false
}

// resolveRelation builds add parameters for "source relation destination",
// checking that the schema allows the relation between the two node types.
func resolveRelation(s vault.Store, reg *schema.Registry, root, source, relation, destination string) (relations.AddParams, error) {
	rt, reversed, ok := relationTypeFor(reg, relation)
	if !ok {
		return relations.AddParams{}, fmt.Errorf("unknown relation type %q", relation)
	}
	src, err := nodeFor(s, root, source)
	if err != nil {
		return relations.AddParams{}, err
	}
	dst, err := nodeFor(s, root, destination)
	if err != nil {
		return relations.AddParams{}, err
	}
	if reversed {
		src, dst = dst, src
	}
	if src.NodeInstanceID == dst.NodeInstanceID {
		return relations.AddParams{}, fmt.Errorf("a node cannot be related to itself")
	}
	if _, ok := reg.Triple(rt.ID, src.NodeTypeID, dst.NodeTypeID); !ok {
		return relations.AddParams{}, fmt.Errorf("%q is not allowed from %s to %s",
			rt.Label, typeName(reg, src.NodeTypeID), typeName(reg, dst.NodeTypeID))
	}
	return relations.AddParams{
		Type:        rt.ID,
		Source:      src.NodeInstanceID,
		Destination: dst.NodeInstanceID,
	}, nil
}

func typeName(reg *schema.Registry, id string) string {
	if nt, ok := reg.NodeType(id); ok {
		return nt.Name
	}
	return id
}

func titlesByID(s vault.Store) (map[string]string, error) {
	nodes, err := vault.CollectNodes(s, true)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(nodes))
	for _, n := range nodes {
		titles[n.NodeInstanceID] = n.Basename()
	}
	return titles, nil
}

func nodeLabel(titles map[string]string, id string) string {
	if t, ok := titles[id]; ok {
		return t
	}
	return renderMuted(id)
}

func init() {
	relationsCmd.AddCommand(relationsAddCmd)
	relationsCmd.AddCommand(relationsRmCmd)
	relationsCmd.AddCommand(relationsLsCmd)

	rootCmd.AddCommand(relationsCmd)
}
