package relations_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/discoursegraphs/dgsync/internal/relations"
)

func ExampleStore_Add() {
	vault, _ := os.MkdirTemp("", "vault")
	defer os.RemoveAll(vault)

	store := relations.New(filepath.Join(vault, "_discourse_graphs"), nil)

	first, _ := store.Add(relations.AddParams{Type: "supports", Source: "A", Destination: "B"})
	second, _ := store.Add(relations.AddParams{Type: "supports", Source: "B", Destination: "A"})

	fmt.Println(first.AlreadyExisted, second.AlreadyExisted, first.ID == second.ID)
	fmt.Println(len(store.Load().Relations))
	// Output:
	// false true true
	// 1
}
