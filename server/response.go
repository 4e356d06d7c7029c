package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/server/middleware"
)

// DataResponse wraps every successful API body.
type DataResponse struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta carries list totals.
type Meta struct {
	Total int `json:"total"`
}

// RespondWithError aborts with err rendered as an AppError body stamped
// with the request id. Unknown errors become INTERNAL_ERROR.
func RespondWithError(c *gin.Context, err error) {
	appErr := errors.Wrap(err)
	body := appErr.ToResponse()
	body.Error.RequestID = c.GetHeader(middleware.HeaderRequestID)
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

func respond(c *gin.Context, code int, data any, meta *Meta) {
	c.JSON(code, DataResponse{Data: data, Meta: meta})
}

// RespondOK sends 200 with data.
func RespondOK(c *gin.Context, data any) { respond(c, http.StatusOK, data, nil) }

// RespondOKWithMeta sends 200 with data and list metadata.
func RespondOKWithMeta(c *gin.Context, data any, meta *Meta) {
	respond(c, http.StatusOK, data, meta)
}

// RespondCreated sends 201 for a registered flow.
func RespondCreated(c *gin.Context, data any) { respond(c, http.StatusCreated, data, nil) }

// RespondAccepted sends 202 for work that continues after the response,
// such as a started or cancelled run.
func RespondAccepted(c *gin.Context, data any) { respond(c, http.StatusAccepted, data, nil) }

// RespondNoContent sends 204.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
