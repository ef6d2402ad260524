package restapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// HTTPVerb enumerates supported HTTP operations.
type HTTPVerb int

const (
	// Unknown represents an unspecified HTTP verb.
	Unknown HTTPVerb = iota
	// GET lists or retrieves submissions.
	GET
	// POST accepts submissions and status updates.
	POST
	// DELETE removes resources.
	DELETE
)

// RestMethod describes a REST route handler.
type RestMethod struct {
	Verb    HTTPVerb
	Path    string
	Handler func(c *gin.Context)
}

type methodRegistry map[string]RestMethod

// register inserts a RestMethod into the registry preventing duplicates.
func (r methodRegistry) register(verb HTTPVerb, path string, h func(c *gin.Context)) error {
	key := fmt.Sprintf("%d_%s", verb, path)
	if _, exists := r[key]; exists {
		return fmt.Errorf("can't add %s, an existing handler in REST method map exists", key)
	}
	r[key] = RestMethod{
		Verb:    verb,
		Path:    path,
		Handler: h,
	}
	return nil
}
