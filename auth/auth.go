package auth

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/johnsto/go-passwordless"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is the key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// Role describes what a back-office agent is allowed to touch
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSupport Role = "soporte"
	RoleCompany Role = "empresa"
)

// Auth provides passwordless login and password-reset links for back-office agents
type Auth struct {
	Options
	pw     *passwordless.Passwordless
	jwtKey []byte
}

// Options provides initialization parameters for Auth
type Options struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger

	JWTSigningKey string

	Environment Environment
	SMTPAuth    smtp.Auth
	From        string
	Hostname    string
	LinkOption  LinkOption
}

// LinkOption specifies the site name shown in the email and the generator for login/reset links
type LinkOption struct {
	SiteName      string
	LinkGenerator LinkGenerator
}

// LinkGenerator builds the link an agent follows to complete a login or a password reset
type LinkGenerator func(uid, token string) string

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Redis == nil {
		return fmt.Errorf("nil Redis is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	if o.SMTPAuth == nil {
		return fmt.Errorf("nil SMTPAuth is invalid")
	}
	if o.From == "" {
		return fmt.Errorf("empty From is invalid")
	}
	if o.Hostname == "" {
		return fmt.Errorf("empty Hostname is invalid")
	}
	if o.LinkOption.SiteName == "" {
		return fmt.Errorf("empty LinkOption.SiteName is invalid")
	}
	if o.LinkOption.LinkGenerator == nil {
		return fmt.Errorf("nil LinkOption.LinkGenerator is invalid")
	}
	return nil
}

// New will return a new instance of Auth for agent authentication
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}

	pw := passwordless.New(passwordless.NewRedisStore(option.Redis))
	pw.SetTransport("Log", passwordless.LogTransport{
		MessageFunc: func(token, uid string) string {
			return option.LinkOption.LinkGenerator(uid, token)
		},
	}, passwordless.NewCrockfordGenerator(8), time.Minute*30)
	pw.SetTransport("Email", passwordless.NewSMTPTransport(
		option.Hostname,
		option.From,
		option.SMTPAuth,
		composeSMTP(option.LinkOption),
	), passwordless.NewCrockfordGenerator(32), time.Minute*15)

	return &Auth{
		Options: option,
		pw:      pw,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}
