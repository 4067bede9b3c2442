// Package schema holds the discourse node types, relation types and the
// relation triples that say which node types a relation type may connect.
//
// The registry lives in _discourse_graphs/schema.toml:
//
//	account_local_id = "alice@example.com"
//
//	[[node_type]]
//	id = "0193..."
//	name = "Claim"
//	format = "CLM - {content}"
//	created = 1736400000000
//	modified = 1736400000000
//
//	[[relation_type]]
//	id = "0193..."
//	label = "supports"
//	complement = "is supported by"
//
//	[[relation]]
//	relationship_type_id = "0193..."
//	source_id = "0193..."
//	destination_id = "0193..."
//
// A missing file yields the default Question/Claim/Evidence registry.
package schema
