// Package schema holds table definitions for the sheetdb engine.
//
// A table is a named sheet of rows. Every table carries an implicit "id"
// column plus an ordered list of typed fields, and is paired with a history
// table that receives soft-deleted rows.
//
// Field types form a closed set (String, Number, Boolean, Date). The coercion
// function for each field is resolved once when the table is registered, not
// per call.
//
// Junction tables model many-to-many relationships. Their configuration is
// derived by DeriveJunctionConfig, a pure function, and then registered like
// any other table.
//
// This package imports nothing internal.
package schema
