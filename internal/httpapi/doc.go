// Package httpapi exposes the REST authentication surface: login, token
// refresh, logout, and logout-everywhere. It owns no identity storage of its
// own; user lookups go through the UserDirectory collaborator and all session
// state lives in the session package.
package httpapi
