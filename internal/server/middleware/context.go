package middleware

import (
	"context"

	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/risk"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// Publisher is the part of an AMQP channel the API uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Scorer scores posted answers synchronously.
type Scorer interface {
	Score(ctx context.Context, critical []common.Question, answers map[string]string) (risk.Report, error)
}

type App struct {
	Storage *storage.Storage
	// S3 presigns download links; nil disables them.
	S3             *s3.Client
	Queue          Publisher
	Keyfunc        jwt.Keyfunc
	Scorer         Scorer
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}
