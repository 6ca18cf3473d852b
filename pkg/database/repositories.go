// Repositories is a convenience wrapper giving a single point of access to
// every repository backed by this service's schema.
package database

// Repositories holds all repository instances.
type Repositories struct {
	Contracts *ContractRepository
	Rules     *RuleRepository
	Geofences *GeofenceRepository
	Queue     *QueueRepository
	History   *HistoryRepository
	Passkeys  *PasskeyRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Contracts: NewContractRepository(client),
		Rules:     NewRuleRepository(client),
		Geofences: NewGeofenceRepository(client),
		Queue:     NewQueueRepository(client),
		History:   NewHistoryRepository(client),
		Passkeys:  NewPasskeyRepository(client),
	}
}
