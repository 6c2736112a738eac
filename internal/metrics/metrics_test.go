package metrics

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter name with the given label
// value, or of the unlabelled counter when label is empty.
func counterValue(g *WithT, reg *prometheus.Registry, name, label string) float64 {
	families, err := reg.Gather()
	g.Expect(err).NotTo(HaveOccurred())
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || (len(m.GetLabel()) == 1 && m.GetLabel()[0].GetValue() == label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCollector(t *testing.T) {
	g := NewWithT(t)

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCallback(CallbackSuccess)
	c.RecordCallback(CallbackFallbackCookie)
	c.RecordCallback(CallbackFallbackCookie)
	c.RecordCookieCleanup(3)
	c.RecordHydration(HydrationTimeout)
	c.RecordProfileLookup(ProfileNotFound)
	c.RecordSubmission(SubmissionCooldown)
	c.ObserveRequest("praise.example.com", "GET", "/dashboard", "200", 0.1)

	g.Expect(counterValue(g, reg, "praise_prison_callback_total", CallbackSuccess)).To(Equal(1.0))
	g.Expect(counterValue(g, reg, "praise_prison_callback_total", CallbackFallbackCookie)).To(Equal(2.0))
	g.Expect(counterValue(g, reg, "praise_prison_session_cookie_cleanup_total", "")).To(Equal(3.0))
	g.Expect(counterValue(g, reg, "praise_prison_hydration_total", HydrationTimeout)).To(Equal(1.0))
	g.Expect(counterValue(g, reg, "praise_prison_profile_lookup_total", ProfileNotFound)).To(Equal(1.0))
	g.Expect(counterValue(g, reg, "praise_prison_praise_submissions_total", SubmissionCooldown)).To(Equal(1.0))

	families, err := reg.Gather()
	g.Expect(err).NotTo(HaveOccurred())
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	g.Expect(names).To(ContainElement("http_request_duration_seconds"))
}

func TestNilCollector(t *testing.T) {
	g := NewWithT(t)
	var c *Collector
	g.Expect(func() {
		c.RecordCallback(CallbackSuccess)
		c.RecordCookieCleanup(1)
		c.RecordHydration(HydrationUnauthenticated)
		c.RecordProfileLookup(ProfileError)
		c.RecordSubmission(SubmissionError)
		c.ObserveRequest("h", "GET", "/", "200", 1)
	}).NotTo(Panic())
}
