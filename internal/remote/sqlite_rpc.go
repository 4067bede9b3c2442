package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

type upsertContentArgs struct {
	Data       []ContentInput `json:"data"`
	SpaceID    int64          `json:"v_space_id"`
	CreatorID  int64          `json:"v_creator_id"`
	AsDocument bool           `json:"content_as_document"`
}

type conceptInput struct {
	Name                       string                     `json:"name"`
	SourceLocalID              string                     `json:"source_local_id"`
	IsSchema                   bool                       `json:"is_schema"`
	SchemaRepresentedByLocalID string                     `json:"schema_represented_by_local_id"`
	LocalReferenceContent      map[string]json.RawMessage `json:"local_reference_content"`
	LiteralContent             json.RawMessage            `json:"literal_content"`
	Description                string                     `json:"description"`
	AuthorLocalID              string                     `json:"author_local_id"`
	Created                    time.Time                  `json:"created"`
	LastModified               time.Time                  `json:"last_modified"`
}

type upsertConceptsArgs struct {
	Data    []conceptInput `json:"data"`
	SpaceID int64          `json:"v_space_id"`
}

type createAccountArgs struct {
	SpaceID        int64  `json:"space_id_"`
	AccountLocalID string `json:"account_local_id_"`
	Name           string `json:"name_"`
	Email          string `json:"email_"`
}

func (s *SQLite) upsertContent(ctx context.Context, raw []byte) ([]int64, error) {
	var args upsertContentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SpaceID == 0 {
		return nil, errors.New("v_space_id is required")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(args.Data))
	for _, c := range args.Data {
		if c.SourceLocalID == "" {
			return nil, errors.New("content without source_local_id")
		}
		authorID, err := accountID(ctx, tx, args.SpaceID, c.AuthorLocalID)
		if err != nil {
			return nil, err
		}
		metadata, err := encodeSQLiteValue(c.Metadata)
		if err != nil {
			return nil, err
		}

		var documentID interface{}
		if args.AsDocument {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO "Document" (space_id, source_local_id, author_id, created, last_modified, metadata)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (space_id, source_local_id) DO UPDATE SET
					author_id = excluded.author_id,
					last_modified = excluded.last_modified,
					metadata = excluded.metadata
				RETURNING id`,
				args.SpaceID, c.SourceLocalID, authorID, FormatTime(c.Created), FormatTime(c.LastModified), metadata,
			).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("failed to upsert document %s: %w", c.SourceLocalID, err)
			}
			documentID = id
		}

		var model, vector interface{}
		if c.EmbeddingInline != nil {
			model = c.EmbeddingInline.Model
			if vector, err = encodeSQLiteValue(c.EmbeddingInline.Vector); err != nil {
				return nil, err
			}
		}
		scale := c.Scale
		if scale == "" {
			scale = ScaleDocument
		}
		creatorID := interface{}(nil)
		if args.CreatorID != 0 {
			creatorID = args.CreatorID
		}

		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO "Content" (document_id, space_id, source_local_id, variant, author_id, creator_id,
				created, last_modified, text, metadata, scale, embedding_model, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (space_id, source_local_id, variant) DO UPDATE SET
				document_id = excluded.document_id,
				author_id = excluded.author_id,
				last_modified = excluded.last_modified,
				text = excluded.text,
				metadata = excluded.metadata,
				scale = excluded.scale,
				embedding_model = COALESCE(excluded.embedding_model, "Content".embedding_model),
				embedding = COALESCE(excluded.embedding, "Content".embedding)
			RETURNING id`,
			documentID, args.SpaceID, c.SourceLocalID, c.Variant, authorID, creatorID,
			FormatTime(c.Created), FormatTime(c.LastModified), c.Text, metadata, scale, model, vector,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert content %s/%s: %w", c.SourceLocalID, c.Variant, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

func (s *SQLite) upsertConcepts(ctx context.Context, raw []byte) ([]int64, error) {
	var args upsertConceptsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SpaceID == 0 {
		return nil, errors.New("v_space_id is required")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(args.Data))
	for _, c := range args.Data {
		if c.SourceLocalID == "" {
			return nil, errors.New("concept without source_local_id")
		}
		authorID, err := accountID(ctx, tx, args.SpaceID, c.AuthorLocalID)
		if err != nil {
			return nil, err
		}

		var schemaID interface{}
		if c.SchemaRepresentedByLocalID != "" {
			id, ok, err := conceptID(ctx, tx, args.SpaceID, c.SchemaRepresentedByLocalID)
			if err != nil {
				return nil, err
			}
			if ok {
				schemaID = id
			}
		}

		resolved, err := resolveReferences(ctx, tx, args.SpaceID, c.LocalReferenceContent)
		if err != nil {
			return nil, err
		}
		localRefs, err := encodeSQLiteValue(c.LocalReferenceContent)
		if err != nil {
			return nil, err
		}
		refs, err := encodeSQLiteValue(resolved)
		if err != nil {
			return nil, err
		}
		var literal interface{}
		if len(c.LiteralContent) > 0 {
			literal = string(c.LiteralContent)
		}

		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO "Concept" (space_id, source_local_id, name, description, is_schema, arity, author_id,
				created, last_modified, literal_content, local_reference_content, reference_content,
				schema_represented_by_local_id, schema_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (space_id, source_local_id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				is_schema = excluded.is_schema,
				arity = excluded.arity,
				author_id = excluded.author_id,
				last_modified = excluded.last_modified,
				literal_content = excluded.literal_content,
				local_reference_content = excluded.local_reference_content,
				reference_content = excluded.reference_content,
				schema_represented_by_local_id = excluded.schema_represented_by_local_id,
				schema_id = excluded.schema_id
			RETURNING id`,
			args.SpaceID, c.SourceLocalID, c.Name, c.Description, c.IsSchema, len(c.LocalReferenceContent), authorID,
			FormatTime(c.Created), FormatTime(c.LastModified), literal, localRefs, refs,
			c.SchemaRepresentedByLocalID, schemaID,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert concept %s: %w", c.SourceLocalID, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

func (s *SQLite) createAccountInSpace(ctx context.Context, raw []byte) (int64, error) {
	var args createAccountArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return 0, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SpaceID == 0 || args.AccountLocalID == "" {
		return 0, errors.New("space_id_ and account_local_id_ are required")
	}
	var id int64
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO "PlatformAccount" (space_id, account_local_id, name, email)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (space_id, account_local_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
		RETURNING id`,
		args.SpaceID, args.AccountLocalID, args.Name, args.Email,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}
	return id, nil
}

func accountID(ctx context.Context, tx *sql.Tx, spaceID int64, accountLocalID string) (interface{}, error) {
	if accountLocalID == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM "PlatformAccount" WHERE space_id = ? AND account_local_id = ?`,
		spaceID, accountLocalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account %s: %w", accountLocalID, err)
	}
	return id, nil
}

func conceptID(ctx context.Context, tx *sql.Tx, spaceID int64, sourceLocalID string) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM "Concept" WHERE space_id = ? AND source_local_id = ?`,
		spaceID, sourceLocalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up concept %s: %w", sourceLocalID, err)
	}
	return id, true, nil
}

// resolveReferences maps each role's local ids to Concept row ids. Ids not
// yet uploaded are left out.
func resolveReferences(ctx context.Context, tx *sql.Tx, spaceID int64, refs map[string]json.RawMessage) (map[string][]int64, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	roles := make([]string, 0, len(refs))
	for role := range refs {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	out := make(map[string][]int64, len(refs))
	for _, role := range roles {
		var localIDs []string
		var one string
		if err := json.Unmarshal(refs[role], &one); err == nil {
			localIDs = []string{one}
		} else if err := json.Unmarshal(refs[role], &localIDs); err != nil {
			return nil, fmt.Errorf("reference %q: %w", role, err)
		}
		for _, local := range localIDs {
			id, ok, err := conceptID(ctx, tx, spaceID, local)
			if err != nil {
				return nil, err
			}
			if ok {
				out[role] = append(out[role], id)
			}
		}
	}
	return out, nil
}
