// Package client is the Go SDK for a ledgerd server.
//
// It wraps the /api/v1/chains routes: creating chains, appending
// transactions, reading blocks, verifying integrity, forking, and finding
// the common ancestor of two chains.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAdminSecret(os.Getenv("LEDGER_ADMIN_SECRET")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	info, err := c.Create(ctx, "payments")
//	blk, err := c.Append(ctx, info.Name, "alice->bob:10")
//	res, err := c.Verify(ctx, info.Name)
//
// # Authentication
//
// Reads are public. When the server has an admin secret configured, write
// routes need a bearer token. Pass a token directly with WithBearerToken, or
// pass the admin secret with WithAdminSecret and the client fetches and
// refreshes tokens on demand.
//
// # Errors
//
// Non-2xx responses come back as *APIError. Use errors.Is with ErrNotFound,
// ErrConflict, or ErrUnauthorized to branch on the common cases.
package client
