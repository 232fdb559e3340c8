package cmd

import (
	"github.com/asseto/signoff/pkg/roles"
)

// NewRoleDirectory creates the role directory. An empty redis URL yields the
// in-memory static directory for local development.
func NewRoleDirectory(redisURL string) roles.Directory {
	if redisURL == "" {
		return roles.NewStaticDirectory()
	}

	directory, err := roles.NewRedisDirectory(redisURL)
	if err != nil {
		panic("Failed to initialize redis role directory: " + err.Error())
	}

	return directory
}
