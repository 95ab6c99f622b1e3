package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	ghlib "github.com/google/go-github/v68/github"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/forge/github"
)

// setup spins up an httptest server and a forge/github.Client pointed at
// it, following the teacher pack's go-github test convention: a
// github.NewClient(nil) with BaseURL redirected to the fake server, and a
// *http.ServeMux on which the spec registers the endpoints it expects to
// be hit.
func setup() (*github.Client, *http.ServeMux) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	DeferCleanup(server.Close)

	gh := ghlib.NewClient(nil)
	u, err := url.Parse(server.URL + "/")
	Expect(err).ToNot(HaveOccurred())
	gh.BaseURL = u
	gh.UploadURL = u

	return github.New(gh, github.Config{RequestsPerSecond: 1000, Burst: 1000, BreakerName: "test"}), mux
}

var _ = Describe("Client.GetPRComments", func() {
	It("marks PullRequests.ListComments entries as inline and GetIssueComments entries as top-level", func() {
		client, mux := setup()

		mux.HandleFunc("/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodGet))
			_, _ = fmt.Fprint(w, `[{"id":1,"body":"looks good overall","user":{"login":"reviewer"}}]`)
		})
		mux.HandleFunc("/repos/acme/widgets/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodGet))
			_, _ = fmt.Fprint(w, `[{"id":2,"body":"fix this line","user":{"login":"reviewer"},"path":"main.go","line":42}]`)
		})

		comments, err := client.GetPRComments(context.Background(), "acme/widgets", 7, time.Time{})
		Expect(err).ToNot(HaveOccurred())
		Expect(comments).To(HaveLen(2))

		var topLevel, inline forge.Comment
		for _, c := range comments {
			if c.ID == 1 {
				topLevel = c
			} else {
				inline = c
			}
		}
		Expect(topLevel.IsInline).To(BeFalse())
		Expect(inline.IsInline).To(BeTrue())
		Expect(inline.Body).To(Equal("fix this line"))
	})

	It("rejects a malformed repo slug before making any request", func() {
		client, _ := setup()
		_, err := client.GetPRComments(context.Background(), "not-a-slug", 7, time.Time{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Client.AddReaction", func() {
	It("posts the given reaction kind to the comment's reaction endpoint", func() {
		client, mux := setup()

		var gotKind string
		mux.HandleFunc("/repos/acme/widgets/issues/comments/99/reactions", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodPost))
			var body map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			gotKind = body["content"]
			w.WriteHeader(http.StatusCreated)
			_, _ = fmt.Fprint(w, `{"id":1,"content":"eyes"}`)
		})

		err := client.AddReaction(context.Background(), "acme/widgets", 99, forge.ReviewAckReaction)
		Expect(err).ToNot(HaveOccurred())
		Expect(gotKind).To(Equal("eyes"))
	})
})
