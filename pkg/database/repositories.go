// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

// Repositories holds all repository instances plus the underlying client,
// for callers (the health endpoint) that need the connection pool itself
// rather than a typed repository.
type Repositories struct {
	Client       *Client
	Transactions *TransactionRepository
	Config       *ConfigRepository
	Signatures   *SignatureRepository
}

// NewRepositories creates all repositories with the given client
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Client:       client,
		Transactions: NewTransactionRepository(client),
		Config:       NewConfigRepository(client),
		Signatures:   NewSignatureRepository(client),
	}
}
