package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

// writeError maps a service error onto a status and API code. Client errors
// keep their message, server errors get the fallback.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUploadTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, app.ErrNoIndex):
		response.Error(c, http.StatusConflict, response.CodeNoIndex, err.Error())
	case errors.Is(err, app.ErrEmptyContent):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeEmptyContent, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, response.CodeTimeout, "request timed out")
	case errors.Is(err, app.ErrQuery):
		logServerError(c, err)
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, fallback)
	case errors.Is(err, app.ErrIndexBuild):
		logServerError(c, err)
		response.Error(c, http.StatusInternalServerError, response.CodeIndexBuild, fallback)
	case errors.Is(err, app.ErrStorage):
		logServerError(c, err)
		response.Error(c, http.StatusInternalServerError, response.CodeStorage, fallback)
	default:
		logServerError(c, err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func logServerError(c *gin.Context, err error) {
	log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
}

func sessionFromPath(c *gin.Context) app.SessionContext {
	return app.SessionContext{SessionID: c.Param("id")}
}

// pageFromQuery reads limit and offset. Missing or malformed values become
// zero, which the store turns into its defaults.
func pageFromQuery(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}
