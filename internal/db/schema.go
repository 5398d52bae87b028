package db

import _ "embed"

// Schema is the reference DDL for the sample relations.
//
//go:embed schema.sql
var Schema string
