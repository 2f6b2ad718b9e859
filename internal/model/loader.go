package model

import "time"

// Loader is the singleton `core_loader` row describing this deployment.
// PublicKey and PrivateKey are hex encoded Curve25519 keys; the private
// key never leaves the server process.
type Loader struct {
	ID         string     // core_loader.id (equals APP_ID)
	Active     bool       // core_loader.active
	Version    string     // core_loader.version (semantic client version)
	LastUpdate *time.Time // core_loader.last_update (nullable)
	PublicKey  string     // core_loader.public_key
	PrivateKey string     // core_loader.private_key
}
