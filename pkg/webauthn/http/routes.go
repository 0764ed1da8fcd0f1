// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// MountChi mounts the passkey routes on a chi router. When limiter is
// non-nil the ceremony endpoints are rate limited per client IP; management
// endpoints are not, since the hosting application gates those.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	r.Route("/api/v1/passkey", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler, limiter)
//	})
func MountChi(r chi.Router, h *Handler, limiter *ratelimit.Limiter) {
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(ratelimit.Middleware(limiter))
		}
		r.Post("/register/options", h.RegisterOptions)
		r.Post("/register/verify", h.RegisterVerify)
		r.Post("/login/options", h.LoginOptions)
		r.Post("/login/verify", h.LoginVerify)
	})

	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials/{id}", h.DeleteCredential)
	r.Get("/status", h.Status)
}
