// Package secretstore stores session and host passwords for the peer CLI so
// they do not have to be typed or passed on the command line. The backing
// store is the platform keyring where available, with a file fallback.
package secretstore

import "fmt"

// Store is a named secret store.
type Store interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
}

var Default Store // set in init of each platform file

// SessionPasswordKey names the session password secret for a server.
func SessionPasswordKey(server string) string {
	return fmt.Sprintf("session/%s", server)
}

// HostPasswordKey names the host password secret for a server.
func HostPasswordKey(server string) string {
	return fmt.Sprintf("host/%s", server)
}
