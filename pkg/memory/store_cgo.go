//go:build cgo

package memory

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension for every new connection.
	sqlite_vec.Auto()
}
