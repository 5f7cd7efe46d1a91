package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/student"
)

var (
	// appJWTConfig is the default JWT auth middleware config; populated by
	// initJWTConfig before the server registers any route.
	appJWTConfig = middleware.JWTConfig{
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    "studentToken",
		Claims:        new(Claims),
	}
	jwtExpirationDelta = 4 * time.Hour
	appName            = "Mitihani"

	contextStudentKey = "student"
)

func initJWTConfig(conf *core.Config) {
	appJWTConfig.SigningKey = []byte(conf.SecretKey)
	jwtExpirationDelta = conf.Server.JWTExpirationDelta
	appName = conf.AppName
}

// Claims represents the authorization claims transmitted via a JWT.
// SessionID identifies the browser session that logged in: it is minted at
// login, rides along on every request and is what the session guard keys
// takeover detection on.
type Claims struct {
	jwt.StandardClaims
	SessionID string   `json:"sid"`
	Username  string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	IsStudent bool     `json:"is_student,omitempty"`
	IsProctor bool     `json:"is_proctor,omitempty"`
	IsAdmin   bool     `json:"is_admin,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// GetStudentClaims builds the claims for one login. Each call mints a fresh
// session ID; two logins by the same account are two distinct sessions.
func GetStudentClaims(std student.Student) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    appName,
			Subject:   std.ID,
			Audience:  "ExamHall",
			ExpiresAt: now.Add(jwtExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		SessionID: uuid.New().String(),
		Username:  std.Username,
		Email:     std.Email,
		IsStudent: std.IsStudent(),
		IsProctor: std.IsProctor(),
		IsAdmin:   std.IsAdmin(),
		Roles:     std.Roles,
	}
}

func authenticate(ctx context.Context, uname, pwd string, svc student.ServiceInterface) (*Claims, error) {
	std, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding student by username or email")
	}
	if err = std.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if std.IsActive != nil && !*std.IsActive {
		return nil, errAccountDeactivated
	}
	// blocked accounts can still log in to see why; exam admission is
	// where the flag bites
	std, err = svc.SetLastLogin(ctx, std)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return GetStudentClaims(std), nil
}

// GenerateToken generates a signed JWT token string representing the student Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey)
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextStudent(ctx echo.Context, svc student.ServiceInterface, clms ...Claims) (student.Student, error) {
	if std, ok := ctx.Get(contextStudentKey).(student.Student); ok {
		return std, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return student.Student{}, errors.Wrap(err, "getting context claims")
		}
	}

	std, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "finding student by ID")
	}
	ctx.Set(contextStudentKey, std)
	return std, nil
}
