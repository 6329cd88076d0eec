package web

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/rouhapp/coordination/pkg/services"
)

const identityLocalKey = "identity"

// ParticipantAuth returns middleware that authenticates participant-scoped
// routes by the run-scoped access token, taken from the "token" query
// parameter or an "Authorization: Bearer" header. The resolved identity is
// stored in the request locals for handlers to read.
func ParticipantAuth(guard *services.Guard) fiber.Handler {
	return func(c fiber.Ctx) error {
		runID := c.Params("id")
		if runID == "" {
			return badRequest(c, "Run ID is required")
		}

		token := c.Query("token")
		if token == "" {
			header := c.Get("Authorization")
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				token = after
			}
		}

		if token == "" {
			return unauthorized(c, "Access token is required")
		}

		identity, err := guard.Authenticate(c.Context(), runID, token)
		if err != nil {
			if services.IsUnauthorizedError(err) {
				return unauthorized(c, "Invalid or rotated access token")
			}

			return handleServiceError(c, err)
		}

		c.Locals(identityLocalKey, identity)

		return c.Next()
	}
}

// identityFromLocals reads the identity stored by ParticipantAuth.
func identityFromLocals(c fiber.Ctx) *services.Identity {
	identity, _ := c.Locals(identityLocalKey).(*services.Identity)

	return identity
}
