package main

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quailsql/QuailDB"
	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/logging"
	"github.com/quailsql/QuailDB/ps"
)

const testSecret = "test-secret-that-is-at-least-32-chars"

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}

func setupTestServer(t *testing.T, opts ...Option) (*Server, func()) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := QuailDB.Open(&persistence)
	identity := core.Identity{Name: "test", Email: "test@test.com"}

	server := NewServer(instance, identity, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err := server.Start("127.0.0.1:0"); err != nil { // :0 picks a free port
		t.Fatalf("Failed to start server: %v", err)
	}

	return server, func() {
		server.Stop()
	}
}

func sendQuery(t *testing.T, addr, query string) Response {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	// Send query
	_, err = conn.Write([]byte(query + "\n"))
	if err != nil {
		t.Fatalf("Failed to send query: %v", err)
	}

	// Read response
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	return resp
}

func TestServerStartStop(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
}

func TestServerCreateDatabase(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := sendQuery(t, server.Addr(), "CREATE DATABASE testdb")
	if !resp.Success {
		t.Errorf("Expected success, got error: %s", resp.Error)
	}
	if resp.Type != "commit" {
		t.Errorf("Expected commit type, got: %s", resp.Type)
	}

	var cr CommitResponse
	if err := json.Unmarshal(resp.Result, &cr); err != nil {
		t.Fatalf("Failed to parse commit result: %v", err)
	}
	if cr.DatabasesCreated != 1 {
		t.Errorf("Expected 1 database created, got: %d", cr.DatabasesCreated)
	}
}

func TestServerCreateTableAndInsert(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	// Create database
	resp := sendQuery(t, server.Addr(), "CREATE DATABASE mydb")
	if !resp.Success {
		t.Fatalf("Failed to create database: %s", resp.Error)
	}

	// Create table
	resp = sendQuery(t, server.Addr(), "CREATE TABLE mydb.users (id INT PRIMARY KEY, name STRING)")
	if !resp.Success {
		t.Fatalf("Failed to create table: %s", resp.Error)
	}

	// Insert record
	resp = sendQuery(t, server.Addr(), "INSERT INTO mydb.users (id, name) VALUES (1, 'Alice')")
	if !resp.Success {
		t.Fatalf("Failed to insert: %s", resp.Error)
	}

	var cr CommitResponse
	json.Unmarshal(resp.Result, &cr)
	if cr.RecordsWritten != 1 {
		t.Errorf("Expected 1 record written, got: %d", cr.RecordsWritten)
	}
}

func TestServerSelect(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	// Setup
	sendQuery(t, server.Addr(), "CREATE DATABASE selectdb")
	sendQuery(t, server.Addr(), "CREATE TABLE selectdb.items (id INT PRIMARY KEY, value STRING)")
	sendQuery(t, server.Addr(), "INSERT INTO selectdb.items (id, value) VALUES (1, 'one')")
	sendQuery(t, server.Addr(), "INSERT INTO selectdb.items (id, value) VALUES (2, 'two')")

	// Query
	resp := sendQuery(t, server.Addr(), "SELECT * FROM selectdb.items")
	if !resp.Success {
		t.Fatalf("Failed to select: %s", resp.Error)
	}
	if resp.Type != "query" {
		t.Errorf("Expected query type, got: %s", resp.Type)
	}

	var qr QueryResponse
	if err := json.Unmarshal(resp.Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if len(qr.Data) != 2 {
		t.Errorf("Expected 2 rows, got: %d", len(qr.Data))
	}
	if qr.RecordsRead != 2 {
		t.Errorf("Expected 2 records read, got: %d", qr.RecordsRead)
	}
}

func TestServerError(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := sendQuery(t, server.Addr(), "SELECT * FROM nonexistent.items")
	if resp.Success {
		t.Error("Expected failure for non-existent table")
	}
	if resp.Error == "" {
		t.Error("Expected error message")
	}
	if resp.Kind != "NotFound" {
		t.Errorf("Expected NotFound kind, got: %s", resp.Kind)
	}
}

func TestServerSyntaxError(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := sendQuery(t, server.Addr(), "SELEKT * FROM foo.bar")
	if resp.Success {
		t.Error("Expected failure for syntax error")
	}
	if resp.Kind != "InvalidCommand" {
		t.Errorf("Expected InvalidCommand kind, got: %s", resp.Kind)
	}
}

func TestServerPersistentConnection(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	// Connect once
	conn, err := net.DialTimeout("tcp", server.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Send multiple queries on same connection
	queries := []string{
		"CREATE DATABASE persistdb",
		"CREATE TABLE persistdb.test (id INT PRIMARY KEY)",
		"INSERT INTO persistdb.test (id) VALUES (1)",
		"SELECT * FROM persistdb.test",
	}

	for _, query := range queries {
		_, err = conn.Write([]byte(query + "\n"))
		if err != nil {
			t.Fatalf("Failed to send query '%s': %v", query, err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read response for '%s': %v", query, err)
		}

		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("Failed to parse response for '%s': %v", query, err)
		}

		if !resp.Success {
			t.Errorf("Query '%s' failed: %s", query, resp.Error)
		}
	}
}

// setupAuthTestServer creates a server with authentication enabled
func setupAuthTestServer(t *testing.T, secret string) (*Server, func()) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := QuailDB.Open(&persistence)

	authConfig := &config.AuthConfig{
		Enabled:   true,
		JWTSecret: secret,
	}

	server := NewServerWithAuth(instance, authConfig, WithLogger(quietLogger()))
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	return server, func() {
		server.Stop()
	}
}

func TestAuthRequired(t *testing.T) {
	server, cleanup := setupAuthTestServer(t, testSecret)
	defer cleanup()

	// Try to query without authenticating
	resp := sendQuery(t, server.Addr(), "CREATE DATABASE testdb")
	if resp.Success {
		t.Error("Expected failure when not authenticated")
	}
	if !strings.Contains(resp.Error, "authentication required") {
		t.Errorf("Expected 'authentication required' error, got: %s", resp.Error)
	}
}

func TestAuthWithValidJWT(t *testing.T) {
	secret := testSecret
	server, cleanup := setupAuthTestServer(t, secret)
	defer cleanup()

	// Create a valid JWT token
	token := createTestJWT(t, secret, "Test User", "test@example.com")

	conn, err := net.DialTimeout("tcp", server.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Send AUTH command
	_, err = conn.Write([]byte("AUTH JWT " + token + "\n"))
	if err != nil {
		t.Fatalf("Failed to send auth: %v", err)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read auth response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse auth response: %v", err)
	}

	if !resp.Success {
		t.Errorf("Auth failed: %s", resp.Error)
	}
	if resp.Type != "auth" {
		t.Errorf("Expected 'auth' type, got: %s", resp.Type)
	}

	// Parse auth response
	var authResp AuthResponse
	if err := json.Unmarshal(resp.Result, &authResp); err != nil {
		t.Fatalf("Failed to parse auth result: %v", err)
	}
	if !authResp.Authenticated {
		t.Error("Expected authenticated to be true")
	}
	if authResp.Identity != "Test User <test@example.com>" {
		t.Errorf("Expected identity 'Test User <test@example.com>', got: %s", authResp.Identity)
	}

	// Now query should work
	_, err = conn.Write([]byte("CREATE DATABASE authtest\n"))
	if err != nil {
		t.Fatalf("Failed to send query: %v", err)
	}

	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read query response: %v", err)
	}

	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse query response: %v", err)
	}

	if !resp.Success {
		t.Errorf("Query after auth failed: %s", resp.Error)
	}
}

func TestAuthWithInvalidJWT(t *testing.T) {
	server, cleanup := setupAuthTestServer(t, testSecret)
	defer cleanup()

	// Create token with wrong secret
	wrongToken := createTestJWT(t, "wrong-secret-that-is-also-32-chars-long", "Test User", "test@example.com")

	conn, err := net.DialTimeout("tcp", server.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Send AUTH command with invalid token
	_, err = conn.Write([]byte("AUTH JWT " + wrongToken + "\n"))
	if err != nil {
		t.Fatalf("Failed to send auth: %v", err)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read auth response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse auth response: %v", err)
	}

	if resp.Success {
		t.Error("Expected auth to fail with wrong secret")
	}
	if resp.Error == "" {
		t.Error("Expected error message")
	}
}

// createTestJWT creates a JWT token for testing
func createTestJWT(t *testing.T, secret, name, email string) string {
	t.Helper()
	return signTestJWT(t, secret, jwt.MapClaims{
		"name":  name,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
}

func signTestJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to create test JWT: %v", err)
	}
	return tokenString
}

// TestIdentityInCommitsUnauthenticated verifies the default identity authors
// auto saved snapshots when auth is disabled
func TestIdentityInCommitsUnauthenticated(t *testing.T) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := QuailDB.Open(&persistence)
	defaultIdentity := core.Identity{Name: "Default User", Email: "default@test.com"}

	server := NewServer(instance, defaultIdentity, WithAutoSave(true), WithLogger(quietLogger()))
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	// Execute a mutation query
	resp := sendQuery(t, server.Addr(), "CREATE DATABASE testdb_identity1")
	if !resp.Success {
		t.Fatalf("Query failed: %s", resp.Error)
	}

	// Check the commit author
	txn := persistence.LatestTransaction()
	expectedAuthor := "Default User <default@test.com>"
	if txn.Author != expectedAuthor {
		t.Errorf("Expected commit author '%s', got '%s'", expectedAuthor, txn.Author)
	}
}

// TestIdentityInCommitsAuthenticated verifies the JWT identity authors auto
// saved snapshots
func TestIdentityInCommitsAuthenticated(t *testing.T) {
	secret := testSecret

	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := QuailDB.Open(&persistence)

	authConfig := &config.AuthConfig{
		Enabled:   true,
		JWTSecret: secret,
	}
	server := NewServerWithAuth(instance, authConfig, WithLogger(quietLogger()))
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	// Create JWT with specific identity
	jwtName := "JWT Test User"
	jwtEmail := "jwtuser@example.com"
	token := createTestJWT(t, secret, jwtName, jwtEmail)

	conn, err := net.DialTimeout("tcp", server.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Authenticate
	_, err = conn.Write([]byte("AUTH JWT " + token + "\n"))
	if err != nil {
		t.Fatalf("Failed to send auth: %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read auth response: %v", err)
	}
	var authResp Response
	json.Unmarshal([]byte(line), &authResp)
	if !authResp.Success {
		t.Fatalf("Auth failed: %s", authResp.Error)
	}

	// Execute a mutation query
	_, err = conn.Write([]byte("CREATE DATABASE testdb_identity2\n"))
	if err != nil {
		t.Fatalf("Failed to send query: %v", err)
	}
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	var resp Response
	json.Unmarshal([]byte(line), &resp)
	if !resp.Success {
		t.Fatalf("Query failed: %s", resp.Error)
	}

	// Check the commit author matches JWT identity
	txn := persistence.LatestTransaction()
	expectedAuthor := jwtName + " <" + jwtEmail + ">"
	if txn.Author != expectedAuthor {
		t.Errorf("Expected commit author '%s', got '%s'", expectedAuthor, txn.Author)
	}
}

// === TLS Tests ===

// setupTLSTestServer creates a server with TLS enabled using test certificates
func setupTLSTestServer(t *testing.T) (*Server, string, string, func()) {
	t.Helper()

	// Create temporary directory for test certificates
	tmpDir := t.TempDir()
	certFile := tmpDir + "/cert.pem"
	keyFile := tmpDir + "/key.pem"

	// Generate self-signed test certificate
	generateTestCertificate(t, certFile, keyFile)

	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := QuailDB.Open(&persistence)
	identity := core.Identity{Name: "test", Email: "test@test.com"}

	server := NewServer(instance, identity, WithLogger(quietLogger()))
	if err := server.StartTLS("127.0.0.1:0", certFile, keyFile); err != nil {
		t.Fatalf("Failed to start TLS server: %v", err)
	}

	return server, certFile, keyFile, func() {
		server.Stop()
	}
}

// generateTestCertificate creates a self-signed certificate for testing
func generateTestCertificate(t *testing.T, certFile, keyFile string) {
	t.Helper()

	// Generate a private key
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	// Create certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	// Create self-signed certificate
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	// Write certificate to file
	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("Failed to create cert file: %v", err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	certOut.Close()

	// Write private key to file
	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("Failed to create key file: %v", err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	keyOut.Close()
}

func TestTLSServerStartStop(t *testing.T) {
	server, _, _, cleanup := setupTLSTestServer(t)
	defer cleanup()

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if !server.TLSEnabled() {
		t.Error("Expected TLS to be enabled")
	}
}

func TestTLSServerConnection(t *testing.T) {
	server, certFile, _, cleanup := setupTLSTestServer(t)
	defer cleanup()

	// Load certificate for client
	certPool := x509.NewCertPool()
	certData, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}
	certPool.AppendCertsFromPEM(certData)

	// Connect with TLS
	tlsConfig := &tls.Config{
		RootCAs:    certPool,
		ServerName: "localhost",
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), tlsConfig)
	if err != nil {
		t.Fatalf("Failed to connect with TLS: %v", err)
	}
	defer conn.Close()

	// Send a query
	_, err = conn.Write([]byte("CREATE DATABASE tlstest\n"))
	if err != nil {
		t.Fatalf("Failed to send query: %v", err)
	}

	// Read response
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if !resp.Success {
		t.Errorf("Query failed: %s", resp.Error)
	}
	if resp.Type != "commit" {
		t.Errorf("Expected commit type, got: %s", resp.Type)
	}
}

func TestTLSServerInvalidCert(t *testing.T) {
	server, _, _, cleanup := setupTLSTestServer(t)
	defer cleanup()

	// Try to connect without proper certificate verification
	// This should fail because we're not providing the right CA
	tlsConfig := &tls.Config{
		ServerName: "localhost",
		// Empty RootCAs - will use system CAs which won't include our self-signed cert
	}

	_, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), tlsConfig)
	if err == nil {
		t.Error("Expected TLS connection to fail with invalid certificate")
	}
}

func TestTLSServerWithInsecureSkipVerify(t *testing.T) {
	server, _, _, cleanup := setupTLSTestServer(t)
	defer cleanup()

	// Connect with InsecureSkipVerify (dev mode)
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), tlsConfig)
	if err != nil {
		t.Fatalf("Failed to connect with TLS (insecure): %v", err)
	}
	defer conn.Close()

	// Send a simple query
	_, err = conn.Write([]byte("SHOW DATABASES\n"))
	if err != nil {
		t.Fatalf("Failed to send query: %v", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if !resp.Success {
		t.Errorf("Query failed: %s", resp.Error)
	}
}

// === Session Tests ===

// exchange sends each line on one connection and returns the responses.
func exchange(t *testing.T, conn net.Conn, lines ...string) []Response {
	t.Helper()
	reader := bufio.NewReader(conn)
	responses := make([]Response, 0, len(lines))
	for _, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("Failed to send '%s': %v", line, err)
		}
		data, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read response for '%s': %v", line, err)
		}
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.Fatalf("Failed to parse response for '%s': %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	return conn
}

func TestServerCurrentDatabasePerConnection(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	first := dial(t, server.Addr())
	defer first.Close()
	second := dial(t, server.Addr())
	defer second.Close()

	responses := exchange(t, first,
		"CREATE DATABASE alpha",
		"CREATE DATABASE beta",
		"USE alpha",
		"CREATE TABLE items (id INT PRIMARY KEY)",
	)
	for i, resp := range responses {
		if !resp.Success {
			t.Fatalf("Statement %d failed: %s", i, resp.Error)
		}
	}

	// The second connection has not selected a database yet.
	resp := exchange(t, second, "SELECT * FROM items")[0]
	if resp.Success || resp.Kind != "NoDatabaseSelected" {
		t.Errorf("Expected NoDatabaseSelected, got success=%v kind=%s", resp.Success, resp.Kind)
	}

	responses = exchange(t, second, "USE beta", "SHOW TABLES")
	var qr QueryResponse
	if err := json.Unmarshal(responses[1].Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if len(qr.Data) != 0 {
		t.Errorf("Expected no tables in beta, got %v", qr.Data)
	}

	// The first connection is still in alpha.
	resp = exchange(t, first, "SELECT * FROM items")[0]
	if !resp.Success {
		t.Errorf("Expected alpha.items to resolve, got: %s", resp.Error)
	}
}

func TestServerConcurrentConnections(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	setup := dial(t, server.Addr())
	exchange(t, setup,
		"CREATE DATABASE loaddb",
		"CREATE TABLE loaddb.hits (id INT AUTO_INCREMENT PRIMARY KEY, worker INT)",
	)
	setup.Close()

	const workers, inserts = 4, 25
	var wg sync.WaitGroup
	errs := make(chan string, workers*inserts)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", server.Addr(), 2*time.Second)
			if err != nil {
				errs <- err.Error()
				return
			}
			defer conn.Close()
			reader := bufio.NewReader(conn)
			for i := 0; i < inserts; i++ {
				if _, err := conn.Write([]byte("INSERT INTO loaddb.hits (worker) VALUES (" + string(rune('0'+worker)) + ")\n")); err != nil {
					errs <- err.Error()
					return
				}
				line, err := reader.ReadString('\n')
				if err != nil {
					errs <- err.Error()
					return
				}
				var resp Response
				if err := json.Unmarshal([]byte(line), &resp); err != nil || !resp.Success {
					errs <- line
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Errorf("Insert failed: %s", msg)
	}

	resp := sendQuery(t, server.Addr(), "SELECT * FROM loaddb.hits")
	var qr QueryResponse
	if err := json.Unmarshal(resp.Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if qr.RecordsRead != workers*inserts {
		t.Errorf("Expected %d rows, got %d", workers*inserts, qr.RecordsRead)
	}
}

// roundTrip dials addr and sends each line, for use from goroutines where
// t.Fatalf is not allowed.
func roundTrip(addr string, lines ...string) ([]Response, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	responses := make([]Response, 0, len(lines))
	for _, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return nil, err
		}
		data, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// Run with -race: new connections select their database while other
// connections create databases.
func TestServerConnectWhileWriting(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	const clients = 20
	var wg sync.WaitGroup
	errs := make(chan string, 2*clients)
	for i := 0; i < clients; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			responses, err := roundTrip(server.Addr(), "CREATE DATABASE db"+strconv.Itoa(i))
			if err != nil {
				errs <- err.Error()
			} else if !responses[0].Success {
				errs <- responses[0].Error
			}
		}(i)
		go func() {
			defer wg.Done()
			responses, err := roundTrip(server.Addr(), "SHOW DATABASES")
			if err != nil {
				errs <- err.Error()
			} else if !responses[0].Success {
				errs <- responses[0].Error
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Errorf("Request failed: %s", msg)
	}

	resp := sendQuery(t, server.Addr(), "SHOW DATABASES")
	var qr QueryResponse
	if err := json.Unmarshal(resp.Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if len(qr.Data) != clients {
		t.Errorf("Expected %d databases, got %d", clients, len(qr.Data))
	}
}

// Run with -race: AUTH rebuilds the connection engine while other
// connections write.
func TestServerAuthWhileWriting(t *testing.T) {
	server, cleanup := setupAuthTestServer(t, testSecret)
	defer cleanup()

	const clients = 10
	var wg sync.WaitGroup
	errs := make(chan string, 2*clients)
	for i := 0; i < clients; i++ {
		token := createTestJWT(t, testSecret, "User "+strconv.Itoa(i), "user"+strconv.Itoa(i)+"@test.com")
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			responses, err := roundTrip(server.Addr(), "AUTH JWT "+token, "CREATE DATABASE auth"+strconv.Itoa(i))
			if err != nil {
				errs <- err.Error()
				return
			}
			for _, resp := range responses {
				if !resp.Success {
					errs <- resp.Error
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			responses, err := roundTrip(server.Addr(), "AUTH JWT "+token, "SHOW DATABASES")
			if err != nil {
				errs <- err.Error()
			} else if !responses[0].Success {
				errs <- responses[0].Error
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Errorf("Request failed: %s", msg)
	}
}

func TestTrackAfterStop(t *testing.T) {
	server, cleanup := setupTestServer(t)
	cleanup()

	local, remote := net.Pipe()
	defer remote.Close()

	if server.track(local) {
		t.Fatal("Expected connection to be refused after Stop")
	}

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := remote.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected refused connection to be closed, got %v", err)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []db.Event
}

func (l *eventLog) Observe(event db.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func TestServerObservers(t *testing.T) {
	events := &eventLog{}
	server, cleanup := setupTestServer(t, WithObserver(events))
	defer cleanup()

	conn := dial(t, server.Addr())
	exchange(t, conn,
		"CREATE DATABASE shop",
		"CREATE TABLE shop.items (id INT PRIMARY KEY)",
		"INSERT INTO shop.items VALUES (1)",
		"INSERT INTO shop.items VALUES (1)",
	)
	conn.Close()

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events.events))
	}
	last := events.events[3]
	if last.Succeeded() || core.KindOf(last.Err) != core.ConstraintViolation {
		t.Errorf("Expected constraint violation event, got %v", last.Err)
	}
	if last.Database != "shop" || last.Table != "items" {
		t.Errorf("Expected shop.items target, got %s.%s", last.Database, last.Table)
	}
}

func TestServerQuit(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	conn := dial(t, server.Addr())
	defer conn.Close()

	if _, err := conn.Write([]byte("quit\n")); err != nil {
		t.Fatalf("Failed to send quit: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
		t.Error("Expected the server to close the connection")
	}
}

func TestAuthNotConfigured(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := sendQuery(t, server.Addr(), "AUTH JWT abc")
	if resp.Success || resp.Type != "auth" {
		t.Errorf("Expected failed auth response, got %+v", resp)
	}
	if !strings.Contains(resp.Error, "not configured") {
		t.Errorf("Expected not configured error, got: %s", resp.Error)
	}
}

func TestAuthExpiredToken(t *testing.T) {
	server, cleanup := setupAuthTestServer(t, testSecret)
	defer cleanup()

	token := signTestJWT(t, testSecret, jwt.MapClaims{
		"name": "Late User",
		"exp":  time.Now().Add(-time.Minute).Unix(),
	})

	resp := sendQuery(t, server.Addr(), "AUTH JWT "+token)
	if resp.Success {
		t.Error("Expected expired token to be rejected")
	}
}

func TestValidateJWT(t *testing.T) {
	cfg := &config.AuthConfig{
		Enabled:    true,
		JWTSecret:  testSecret,
		Issuer:     "quail-issuer",
		Audience:   "quaildb",
		NameClaim:  "preferred_username",
		EmailClaim: "mail",
	}

	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    string
		wantErr bool
	}{
		{
			name: "valid",
			claims: jwt.MapClaims{
				"iss": "quail-issuer", "aud": "quaildb",
				"preferred_username": "ada", "mail": "ada@example.com",
			},
			want: "ada <ada@example.com>",
		},
		{
			name:    "wrong issuer",
			claims:  jwt.MapClaims{"iss": "other", "aud": "quaildb", "preferred_username": "ada"},
			wantErr: true,
		},
		{
			name:    "wrong audience",
			claims:  jwt.MapClaims{"iss": "quail-issuer", "aud": "other", "preferred_username": "ada"},
			wantErr: true,
		},
		{
			name:    "missing identity",
			claims:  jwt.MapClaims{"iss": "quail-issuer", "aud": "quaildb", "name": "ada"},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := validateJWT(cfg, signTestJWT(t, testSecret, test.claims))
			if test.wantErr {
				if result.err == nil {
					t.Errorf("Expected error, got identity %s", result.identity)
				}
				return
			}
			if result.err != nil {
				t.Fatalf("Unexpected error: %v", result.err)
			}
			if result.identity.String() != test.want {
				t.Errorf("Expected %s, got %s", test.want, result.identity)
			}
		})
	}

	if result := validateJWT(nil, "token"); result.err != ErrAuthNotConfigured {
		t.Errorf("Expected ErrAuthNotConfigured, got %v", result.err)
	}
}

func TestParseAuthCommand(t *testing.T) {
	tests := []struct {
		line    string
		token   string
		wantErr bool
	}{
		{"AUTH JWT abc.def.ghi", "abc.def.ghi", false},
		{"auth jwt abc", "abc", false},
		{"AUTH JWT", "", true},
		{"AUTH BASIC user:pass", "", true},
		{"SELECT 1", "", true},
	}

	for _, test := range tests {
		_, token, err := parseAuthCommand(test.line)
		if (err != nil) != test.wantErr {
			t.Errorf("parseAuthCommand(%q) error = %v, wantErr %v", test.line, err, test.wantErr)
		}
		if token != test.token {
			t.Errorf("parseAuthCommand(%q) token = %q, expected %q", test.line, token, test.token)
		}
	}
}

func TestConnectionStateExpiry(t *testing.T) {
	now := time.Now()
	state := ConnectionState{authenticated: true}
	if state.expired(now) {
		t.Error("Expected a token without expiry to stay valid")
	}
	state.tokenExpiry = now.Add(-time.Second)
	if !state.expired(now) {
		t.Error("Expected a past expiry to be reported")
	}
}
