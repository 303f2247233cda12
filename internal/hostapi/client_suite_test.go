package hostapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/reposync/internal/hostapi"
	"github.com/stacklok/reposync/internal/repo"
)

func TestHostAPI(t *testing.T) {
	t.Parallel()
	RegisterFailHandler(Fail)
	RunSpecs(t, "HostAPI Suite")
}

type countingTransport struct {
	calls atomic.Int32
	base  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.base.RoundTrip(r)
}

var _ = Describe("DefaultClient", func() {
	var (
		client     *hostapi.DefaultClient
		mockServer *httptest.Server
		transport  *countingTransport
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/repos/acme/widgets":
				w.WriteHeader(http.StatusOK)
			case "/repos/acme/private":
				w.WriteHeader(http.StatusForbidden)
			case "/user":
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		mockServer.Config.SetKeepAlivesEnabled(false)

		transport = &countingTransport{base: http.DefaultTransport}
		var err error
		client, err = hostapi.NewDefaultClient(mockServer.URL, 0, hostapi.WithTransport(transport))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("RepositoryStatus", func() {
		It("reports 200 for an accessible repository", func() {
			code, err := client.RepositoryStatus(ctx, repo.MustParse("acme/widgets"), "tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusOK))
		})

		It("reports 403 for a repository without access", func() {
			code, err := client.RepositoryStatus(ctx, repo.MustParse("acme/private"), "tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusForbidden))
		})

		It("reports 404 for a deleted repository", func() {
			code, err := client.RepositoryStatus(ctx, repo.MustParse("acme/gone"), "tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("custom transport", func() {
		It("routes every request through the configured round tripper", func() {
			_, err := client.IdentityStatus(ctx, "tok")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.IdentityStatus(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.calls.Load()).To(Equal(int32(2)))
		})
	})
})
