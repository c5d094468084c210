// Package dump moves QuailDB data in and out of files.
//
// Exports write a SQL script, the registry JSON shape, or a SQLite file:
//
//	msg, err := dump.Export(ctx, registry, dump.FormatSQL, "shop", "s3://backups/shop.sql", s3opts)
//
// Imports replay a SQL script or load JSON into an existing database through
// an engine, collecting per-statement failures in a Report:
//
//	report, err := dump.Import(ctx, engine, dump.FormatJSON, "shop", "https://example.com/shop.json", nil)
//
// Paths may be local, file://, http(s):// (read only) or s3://.
package dump
