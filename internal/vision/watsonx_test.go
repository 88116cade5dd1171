package vision

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Watsonx", func() {
	var (
		server *ghttp.Server
		client *Watsonx
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client, err = NewWatsonxWithTokenURL(
			server.URL(),
			server.URL()+"/identity/token",
			"test-api-key",
			"test-project",
			"test-model",
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	tokenHandler := func() http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/identity/token"),
			ghttp.VerifyFormKV("apikey", "test-api-key"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"access_token": "test-token",
				"expires_in":   3600,
			}),
		)
	}

	Describe("Invoke", func() {
		var (
			raw       string
			invokeErr error
		)

		JustBeforeEach(func() {
			raw, invokeErr = client.Invoke(context.Background(), []byte("png-bytes"), "image/png", "extract the card")
		})

		When("the model responds", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					tokenHandler(),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
						ghttp.VerifyHeaderKV("Authorization", "Bearer test-token"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
							"choices": []map[string]any{
								{"message": map[string]any{"content": `{"name": "Alice"}`}},
							},
						}),
					),
				)
			})

			It("should not return an error", func() {
				Expect(invokeErr).NotTo(HaveOccurred())
			})

			It("returns the raw message content", func() {
				Expect(raw).To(Equal(`{"name": "Alice"}`))
			})
		})

		When("the API key is rejected at token exchange", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/identity/token"),
						ghttp.RespondWith(http.StatusBadRequest, `{"errorCode": "BXNIM0415E"}`),
					),
				)
			})

			It("classifies the error as unauthorized", func() {
				Expect(invokeErr).To(HaveOccurred())
				Expect(KindOf(invokeErr)).To(Equal(KindUnauthorized))
			})
		})

		When("the chat endpoint rate limits", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					tokenHandler(),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
						ghttp.RespondWith(http.StatusTooManyRequests, "slow down"),
					),
				)
			})

			It("classifies the error as rate limited", func() {
				Expect(invokeErr).To(HaveOccurred())
				Expect(KindOf(invokeErr)).To(Equal(KindRateLimited))
			})
		})

		When("the chat endpoint is down", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					tokenHandler(),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
						ghttp.RespondWith(http.StatusServiceUnavailable, "maintenance"),
					),
				)
			})

			It("classifies the error as unavailable", func() {
				Expect(invokeErr).To(HaveOccurred())
				Expect(KindOf(invokeErr)).To(Equal(KindUnavailable))
			})
		})

		When("the response has no choices", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					tokenHandler(),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}),
					),
				)
			})

			It("classifies the error as unknown", func() {
				Expect(invokeErr).To(HaveOccurred())
				Expect(KindOf(invokeErr)).To(Equal(KindUnknown))
			})
		})
	})

	Describe("token caching", func() {
		It("exchanges the API key once across multiple invokes", func() {
			chatResponse := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "{}"}},
				},
			}
			server.AppendHandlers(
				tokenHandler(),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, chatResponse),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/ml/v1/text/chat", "version=2024-05-31"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, chatResponse),
				),
			)

			_, err1 := client.Invoke(context.Background(), []byte("a"), "image/png", "p")
			_, err2 := client.Invoke(context.Background(), []byte("b"), "image/png", "p")
			Expect(err1).NotTo(HaveOccurred())
			Expect(err2).NotTo(HaveOccurred())
			// token request + two chat requests
			Expect(server.ReceivedRequests()).To(HaveLen(3))
		})
	})

	Describe("NewWatsonx", func() {
		It("requires an API key", func() {
			_, err := NewWatsonx("", "", "project", "")
			Expect(err).To(HaveOccurred())
		})

		It("requires a project ID", func() {
			_, err := NewWatsonx("", "key", "", "")
			Expect(err).To(HaveOccurred())
		})
	})
})
