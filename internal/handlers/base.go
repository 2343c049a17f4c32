package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// PathParam returns a required path parameter
func PathParam(c echo.Context, param string) (string, error) {
	value := c.Param(param)
	if value == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}
	return value, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// Unauthorized returns a 401 Unauthorized error
func Unauthorized(message string) error {
	return httperror.NewHTTPError(http.StatusUnauthorized, message)
}

// NotFound returns a 404 Not Found error
func NotFound(message string) error {
	return httperror.NewHTTPError(http.StatusNotFound, message)
}
