// Package logging builds the structured slog logger used by the QuailDB
// hosts and handed to the engine, the change feed and the metrics writer.
package logging
