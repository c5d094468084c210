// Package QuailDB provides an embedded, in-memory, multi-database SQL engine.
//
// Databases and their tables live in a registry that engines execute
// statements against. Snapshots of the registry can be committed to a git
// repository through package ps and restored later.
//
// # Quick Start
//
//	persistence, _ := ps.NewMemoryPersistence()
//	instance := QuailDB.Open(&persistence)
//	engine := instance.Engine()
//
//	engine.Execute("CREATE DATABASE shop")
//	engine.Execute("USE shop")
//	engine.Execute("CREATE TABLE items (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(40))")
//	engine.Execute("INSERT INTO items (name) VALUES ('Pen')")
//
//	result, _ := engine.Execute("SELECT * FROM items WHERE name LIKE 'P%'")
//	result.Display()
//
//	instance.Save(core.Identity{Name: "app", Email: "app@example.com"}, "first items")
//
// # Supported SQL
//
//   - CREATE/DROP DATABASE [IF EXISTS], USE, SHOW DATABASES, SHOW TABLES
//   - CREATE TABLE [IF NOT EXISTS], DROP TABLE [IF EXISTS], DESCRIBE
//   - ALTER TABLE ADD/DROP/MODIFY COLUMN
//   - INSERT, SELECT, UPDATE, DELETE
//   - WHERE with comparisons, AND, OR, NOT, LIKE, IN, IS NULL and
//     IN (SELECT ...) subqueries
package QuailDB
