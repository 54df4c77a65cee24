package server

import (
	"net/http"
	"testing"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/stretchr/testify/assert"
)

func TestStatusForKind(t *testing.T) {
	cases := map[signing.ErrorKind]int{
		signing.KindInput:           http.StatusBadRequest,
		signing.KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
		signing.KindConflict:        http.StatusConflict,
		signing.KindAuth:            http.StatusUnauthorized,
		signing.KindNotFound:        http.StatusNotFound,
		signing.KindDelivery:        http.StatusInternalServerError,
		signing.KindPersistence:     http.StatusInternalServerError,
		signing.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusForKind(kind), kind)
	}
}
