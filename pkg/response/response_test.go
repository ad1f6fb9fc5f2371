package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sudooom.arena/pkg/errors"
)

func record(fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)

	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := record(func(c *gin.Context) { Success(c, gin.H{"id": "1"}) })

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, apperrors.CodeSuccess, resp.Code)
	assert.Equal(t, map[string]any{"id": "1"}, resp.Data)
}

func TestErrorUsesCodeFamily(t *testing.T) {
	w, resp := record(func(c *gin.Context) { Error(c, apperrors.ErrNotYourTurn) })

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.CodeInvalidMove, resp.Code)
	assert.Equal(t, apperrors.ReasonNotYourTurn, resp.Reason)
	assert.Nil(t, resp.Data)
}

func TestErrorPlainIsServerError(t *testing.T) {
	w, resp := record(func(c *gin.Context) { Error(c, errors.New("boom")) })

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.CodeServerError, resp.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestSuccessWithError(t *testing.T) {
	w, resp := record(func(c *gin.Context) {
		SuccessWithError(c, gin.H{"settlementPending": true}, apperrors.ErrSettlementFailure)
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, apperrors.CodeSettlementFailure, resp.Code)
}
