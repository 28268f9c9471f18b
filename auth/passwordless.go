package auth

import (
	"context"
	"io"

	"github.com/johnsto/go-passwordless"
)

func (a *Auth) getTransport() string {
	if a.Environment == EnvProduction {
		return "Email"
	}
	return "Log"
}

// RequestLink will send a login/password-reset link to the agent's email
func (a *Auth) RequestLink(ctx context.Context, uid, recipient string) error {
	return a.pw.RequestToken(ctx, a.getTransport(), uid, recipient)
}

// Verify checks if the emailed token is valid and corresponds to the agent
func (a *Auth) Verify(ctx context.Context, uid, token string) (bool, error) {
	valid, err := a.pw.VerifyToken(ctx, uid, token)
	switch err {
	case passwordless.ErrNoResponseWriter, passwordless.ErrNoStore, passwordless.ErrNoTransport, passwordless.ErrNotValidForContext:
		return valid, err
	default:
		return valid, nil
	}
}

func composeSMTP(options LinkOption) passwordless.ComposerFunc {
	return func(ctx context.Context, token, uid, recipient string, w io.Writer) error {
		e := &passwordless.Email{
			Subject: "Acceso a " + options.SiteName,
			To:      recipient,
		}

		link := options.LinkGenerator(uid, token)

		text := "Alguien (ojala vos) pidio acceder a " + options.SiteName + ".\n\n" +
			"Tu codigo (expira en 15 minutos) es " + token + " - o usa este enlace: " +
			link + "\n\n" +
			"(Si no pediste este correo, podes ignorarlo.)"
		html := "<!doctype html><html><body>" +
			"<p>Alguien (ojala vos) pidio acceder a " + options.SiteName + ".</p>" +
			"<p>Tu codigo (expira en 15 minutos) es <b>" + token + "</b> - o <a href=\"" + link + "\">" +
			"hace clic aca</a> para entrar directamente.</p>" +
			"<p>(Si no pediste este correo, podes ignorarlo.)</p></body></html>"

		e.AddBody("text/plain", text)
		e.AddBody("text/html", html)

		_, err := e.Write(w)

		return err
	}
}
