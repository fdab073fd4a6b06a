// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"

	"github.com/parlor/parlor/internal/account"
	"github.com/parlor/parlor/internal/account/memory"
	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/protocol"
	"github.com/parlor/parlor/internal/session"
)

var _ = Describe("Authentication scenarios", func() {
	var (
		ctx      context.Context
		store    *memory.Store
		binder   *session.Binder
		out      *recorder
		handler  *protocol.Handler
		amyLogin = map[string]string{"username": "amy", "password": "p1"}
		amyReg   = map[string]string{"username": "amy", "password": "p1", "firstName": "A", "lastName": "M"}
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStore()
		binder = session.NewBinder()
		out = &recorder{}

		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())
		registry, err := account.NewRegistry(store, hasher)
		Expect(err).NotTo(HaveOccurred())
		authn, err := auth.NewService(registry, hasher)
		Expect(err).NotTo(HaveOccurred())
		handler, err = protocol.NewHandler(authn, registry, binder, out)
		Expect(err).NotTo(HaveOccurred())
	})

	eventsFor := func(connID string) []emitted {
		var res []emitted
		for _, e := range out.all() {
			if e.ConnID == connID {
				res = append(res, e)
			}
		}
		return res
	}

	Describe("registering then logging in", func() {
		It("creates the account without authenticating and then logs in", func() {
			c1 := handler.Open("c1")

			c1.Handle(ctx, protocol.EventCheckUsernameExists, payload(map[string]string{"username": "amy"}))
			Expect(out.last()).To(Equal(emitted{"c1", protocol.EventRegistrationError, nil}))

			c1.Handle(ctx, protocol.EventRegister, payload(amyReg))
			reg := out.last()
			Expect(reg.Event).To(Equal(protocol.EventRegistrationSuccess))
			view := reg.Payload.(protocol.AccountView)
			Expect(view.Username).To(Equal("amy"))
			Expect(view.Conversations).To(BeEmpty())
			Expect(c1.State()).To(Equal(protocol.StateAnonymous))

			c1.Handle(ctx, protocol.EventCheckUsernameExists, payload(map[string]string{"username": "amy"}))
			Expect(out.last()).To(Equal(emitted{"c1", protocol.EventRegistrationError, protocol.MsgUsernameTaken}))

			c1.Handle(ctx, protocol.EventLogin, payload(amyLogin))
			login := out.last()
			Expect(login.Event).To(Equal(protocol.EventLoginSuccessful))
			Expect(login.Payload.(protocol.AccountView).ID).To(Equal(view.ID))
			Expect(c1.State()).To(Equal(protocol.StateAuthenticated))
		})
	})

	Describe("failed logins", func() {
		BeforeEach(func() {
			handler.Open("setup").Handle(ctx, protocol.EventRegister, payload(amyReg))
		})

		It("gives the same answer for an unknown user and a wrong password", func() {
			c := handler.Open("c2")
			c.Handle(ctx, protocol.EventLogin, payload(map[string]string{"username": "amy", "password": "nope"}))
			c.Handle(ctx, protocol.EventLogin, payload(map[string]string{"username": "ghost", "password": "p1"}))

			events := eventsFor("c2")
			Expect(events).To(HaveLen(2))
			Expect(events[0]).To(Equal(emitted{"c2", protocol.EventLoginError, protocol.MsgBadCredentials}))
			Expect(events[1]).To(Equal(events[0]))
			Expect(c.State()).To(Equal(protocol.StateAnonymous))
		})

		It("treats usernames as case sensitive", func() {
			c := handler.Open("c3")
			c.Handle(ctx, protocol.EventLogin, payload(map[string]string{"username": "Amy", "password": "p1"}))
			Expect(out.last()).To(Equal(emitted{"c3", protocol.EventLoginError, protocol.MsgBadCredentials}))
		})
	})

	Describe("duplicate registration", func() {
		It("rejects the second attempt", func() {
			handler.Open("c1").Handle(ctx, protocol.EventRegister, payload(amyReg))
			handler.Open("c2").Handle(ctx, protocol.EventRegister, payload(amyReg))

			Expect(eventsFor("c2")).To(ConsistOf(emitted{"c2", protocol.EventRegistrationError, protocol.MsgUsernameTaken}))
			Expect(store.Len()).To(Equal(1))
		})

		It("lets exactly one of many concurrent registrations win", func() {
			const n = 8
			var wg sync.WaitGroup
			for i := range n {
				conn := handler.Open(string(rune('a' + i)))
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					conn.Handle(ctx, protocol.EventRegister, payload(amyReg))
				}()
			}
			wg.Wait()

			var successes, taken int
			for _, e := range out.all() {
				switch {
				case e.Event == protocol.EventRegistrationSuccess:
					successes++
				case e.Event == protocol.EventRegistrationError && e.Payload == protocol.MsgUsernameTaken:
					taken++
				}
			}
			Expect(successes).To(Equal(1))
			Expect(taken).To(Equal(n - 1))
			Expect(store.Len()).To(Equal(1))
		})
	})

	Describe("several devices", func() {
		It("tracks every live connection of the account", func() {
			handler.Open("setup").Handle(ctx, protocol.EventRegister, payload(amyReg))
			c1 := handler.Open("c1")
			c2 := handler.Open("c2")
			c1.Handle(ctx, protocol.EventLogin, payload(amyLogin))
			c2.Handle(ctx, protocol.EventLogin, payload(amyLogin))

			id, ok := binder.AccountFor("c1")
			Expect(ok).To(BeTrue())
			Expect(binder.LiveConnections(id)).To(Equal([]string{"c1", "c2"}))

			c1.Close()
			Expect(binder.LiveConnections(id)).To(Equal([]string{"c2"}))
		})
	})
})
