package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindCodes(t *testing.T) {
	codes := map[Kind]int{
		KindGeneric:               3000,
		KindValue:                 3001,
		KindValidation:            3002,
		KindUnauthorized:          4001,
		KindInvalidState:          4002,
		KindInvalidIdToken:        4003,
		KindInvalidRefreshToken:   4004,
		KindBusinessLogic:         4100,
		KindResourceNotFound:      4101,
		KindResourceAlreadyExists: 4102,
		KindServer:                5000,
		KindTimeout:               5001,
		KindBackendStore:          5003,
		KindDirectoryProvider:     5004,
	}
	assert.Len(t, codes, len(kinds))
	for kind, code := range codes {
		assert.Equal(t, code, kind.Code(), kind.String())
	}
	assert.Equal(t, 3000, Kind(99).Code())
}

func TestKindHierarchy(t *testing.T) {
	assert.True(t, KindInvalidState.Is(KindUnauthorized))
	assert.True(t, KindInvalidIdToken.Is(KindUnauthorized))
	assert.True(t, KindResourceNotFound.Is(KindBusinessLogic))
	assert.True(t, KindBackendStore.Is(KindServer))
	assert.True(t, KindServer.Is(KindServer))
	assert.False(t, KindUnauthorized.Is(KindInvalidState))
	assert.False(t, KindTimeout.Is(KindUnauthorized))
}

func TestKindStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.Status())
	assert.Equal(t, http.StatusUnauthorized, KindInvalidRefreshToken.Status())
	assert.Equal(t, http.StatusNotFound, KindResourceNotFound.Status())
	assert.Equal(t, http.StatusUnprocessableEntity, KindResourceAlreadyExists.Status())
	assert.Equal(t, http.StatusConflict, KindBusinessLogic.Status())
	assert.Equal(t, http.StatusInternalServerError, KindDirectoryProvider.Status())
}

func TestKindOfThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("pop: %w", Wrap(KindBackendStore, "state store unavailable", cause))

	assert.Equal(t, KindBackendStore, KindOf(err))
	assert.True(t, IsKind(err, KindServer))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "state store unavailable", PublicMessage(err))
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, KindGeneric, KindOf(cause))
	assert.True(t, IsKind(cause, KindGeneric))
	assert.False(t, IsKind(nil, KindGeneric))
	assert.Equal(t, "internal server error", PublicMessage(cause))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "InvalidState: invalid state", New(KindInvalidState, "invalid state").Error())
	assert.Equal(t, "Unauthorized", New(KindUnauthorized, "").Error())
	assert.Equal(t, "Timeout: Account service timeout", Newf(KindTimeout, "%s service timeout", "Account").Error())
}
