// Package restapi surfaces the submission service over HTTP: the authenticated
// submit endpoint, the internal SDES status-update endpoint and the admin
// inspection listing.
package restapi

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
	swaggerfiles "github.com/swaggo/files"     // swagger embed files
	ginSwagger "github.com/swaggo/gin-swagger" // gin-swagger middleware

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/submit"
)

// ownerKey is the gin context key carrying the authenticated principal.
const ownerKey = "owner"

// Server wires the REST endpoints to the submit pipeline and the repository.
type Server struct {
	cfg           dms.Config
	submitService *submit.Service
	repository    dms.Repository
}

func NewServer(cfg dms.Config, repository dms.Repository, objectStore dms.ObjectStore) *Server {
	return &Server{
		cfg:           cfg,
		submitService: submit.NewService(repository, objectStore, cfg.AllowLocalhostCallbacks),
		repository:    repository,
	}
}

// Router builds the gin engine with every endpoint behind bearer-token
// verification, plus the swagger UI.
func (s *Server) Router() (*gin.Engine, error) {
	// Simple closure for header token verification.
	verifyHeaderToken := func(realHandler func(c *gin.Context)) func(c *gin.Context) {
		return func(c *gin.Context) {
			if owner, ok := s.verify(c); ok {
				c.Set(ownerKey, owner)
				realHandler(c)
			}
		}
	}

	methods := make(methodRegistry)
	if err := methods.register(POST, "/dms-submission/submit", s.submitHandler); err != nil {
		return nil, err
	}
	if err := methods.register(POST, "/sdes-callback", s.sdesCallbackHandler); err != nil {
		return nil, err
	}
	if err := methods.register(GET, "/dms-submission/submissions", s.listHandler); err != nil {
		return nil, err
	}

	router := gin.Default()
	for _, rm := range methods {
		switch rm.Verb {
		case GET:
			router.GET(rm.Path, verifyHeaderToken(rm.Handler))
		case POST:
			router.POST(rm.Path, verifyHeaderToken(rm.Handler))
		case DELETE:
			router.DELETE(rm.Path, verifyHeaderToken(rm.Handler))
		default:
			return nil, fmt.Errorf("HTTP verb %d not supported", rm.Verb)
		}
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	return router, nil
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	router, err := s.Router()
	if err != nil {
		return err
	}
	return router.Run(s.cfg.ListenAddress)
}

var toValidate = map[string]string{
	"aud": "api://default",
	"cid": os.Getenv("OKTA_CLIENT_ID"),
}

// verify checks the bearer token in the header and resolves the caller's
// principal name. The internal auth token authenticates trusted services,
// which name their principal in the X-Client-Id header; any other token goes
// through Okta OAuth2 verification and the principal is the sub claim.
func (s *Server) verify(c *gin.Context) (string, bool) {
	token := c.Request.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return "", false
	}
	token = strings.TrimPrefix(token, "Bearer ")

	if s.cfg.InternalAuthToken != "" && token == s.cfg.InternalAuthToken {
		owner := c.Request.Header.Get("X-Client-Id")
		if owner == "" {
			owner = "internal"
		}
		return owner, true
	}

	verifierSetup := jwtverifier.JwtVerifier{
		Issuer:           "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
		ClaimsToValidate: toValidate,
	}
	verifier := verifierSetup.New()
	jwt, err := verifier.VerifyAccessToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
		return "", false
	}
	owner, _ := jwt.Claims["sub"].(string)
	if owner == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "token carries no subject"})
		return "", false
	}
	return owner, true
}
