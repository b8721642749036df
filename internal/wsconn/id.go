package wsconn

import "github.com/google/uuid"

func newConnectionID() string {
	return uuid.NewString()
}
