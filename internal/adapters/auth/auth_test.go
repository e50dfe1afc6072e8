package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/apperr"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAuthenticator(t *testing.T) {
	Convey("Given an authenticator", t, func() {
		now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		a, err := auth.New("s3cret", "roomsync", auth.WithNow(clock))
		So(err, ShouldBeNil)

		Convey("When an identity token is issued and verified", func() {
			tok, err := a.IssueIdentity("u1", "Ana", time.Hour)
			So(err, ShouldBeNil)
			id, err := a.VerifyIdentity("Bearer " + tok)

			Convey("Then the subject is recovered", func() {
				So(err, ShouldBeNil)
				So(id.UID, ShouldEqual, "u1")
				So(id.Name, ShouldEqual, "Ana")
				So(id.ExpiresAt, ShouldEqual, now.Add(time.Hour))
			})
		})

		Convey("When the token has expired", func() {
			tok, _ := a.IssueIdentity("u1", "Ana", time.Minute)
			now = now.Add(2 * time.Minute)
			_, err := a.VerifyIdentity(tok)
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When the token is signed with another secret", func() {
			other, _ := auth.New("other", "roomsync", auth.WithNow(clock))
			tok, _ := other.IssueIdentity("u1", "Ana", time.Hour)
			_, err := a.VerifyIdentity(tok)
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When the token uses an unexpected algorithm", func() {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
				"sub": "u1", "iss": "roomsync", "kind": "identity",
			}).SignedString(jwt.UnsafeAllowNoneSignatureType)
			_, err := a.VerifyIdentity(tok)
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When the token is missing", func() {
			_, err := a.VerifyIdentity("")
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When a host session is presented as identity", func() {
			tok, _ := a.IssueHostSession("u1", "r1", time.Minute)
			_, err := a.VerifyIdentity(tok)
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When a host session is verified", func() {
			tok, _ := a.IssueHostSession("u1", "r1", time.Minute)

			hs, err := a.VerifyHostSession(tok, "r1")
			So(err, ShouldBeNil)
			So(hs.UID, ShouldEqual, "u1")

			_, err = a.VerifyHostSession(tok, "r2")
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeForbidden)
		})
	})

	Convey("Given an empty secret", t, func() {
		_, err := auth.New("", "roomsync")
		So(err, ShouldNotBeNil)
	})
}
