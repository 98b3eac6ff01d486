package election

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/platform/memory"
	"github.com/openshift/autoscale-core/internal/proxy"
)

// fakeProxy reports an ample remaining budget unless overridden, so bounded
// waiters in tests never hit OutcomeTimedOut unintentionally.
type fakeProxy struct {
	remainingMs int64
}

func (f *fakeProxy) Log(string, proxy.Level)                                    {}
func (f *fakeProxy) Info(string)                                                {}
func (f *fakeProxy) Warning(string)                                             {}
func (f *fakeProxy) Error(string)                                               {}
func (f *fakeProxy) FormatResponse(status int, body string, secret bool, headers map[string]string) any {
	return body
}
func (f *fakeProxy) GetRemainingExecutionTimeMs() int64 { return f.remainingMs }

func selfVm(id, group string) *fleet.VirtualMachine {
	return &fleet.VirtualMachine{VmID: id, ScalingGroupName: group, PrimaryPrivateIP: "10.0.0.1"}
}

var _ = Describe("decide", func() {
	It("requires an election when no record exists", func() {
		need, purge := decide(nil, 1000, false)
		Expect(need).To(BeTrue())
		Expect(purge).To(BeFalse())
	})

	It("leaves a healthy done record alone", func() {
		need, _ := decide(&fleet.PrimaryRecord{VoteState: fleet.VoteStateDone}, 1000, false)
		Expect(need).To(BeFalse())
	})

	It("purges a done record whose primary turned unhealthy", func() {
		need, purge := decide(&fleet.PrimaryRecord{VoteState: fleet.VoteStateDone}, 1000, true)
		Expect(need).To(BeTrue())
		Expect(purge).To(BeTrue())
	})

	It("waits on a pending record within its deadline", func() {
		need, _ := decide(&fleet.PrimaryRecord{VoteState: fleet.VoteStatePending, VoteEndTime: 5000}, 1000, false)
		Expect(need).To(BeFalse())
	})

	It("re-elects a pending record past its deadline", func() {
		need, purge := decide(&fleet.PrimaryRecord{VoteState: fleet.VoteStatePending, VoteEndTime: 500}, 1000, false)
		Expect(need).To(BeTrue())
		Expect(purge).To(BeTrue())
	})

	It("re-elects from a timeout tombstone without purging", func() {
		need, purge := decide(&fleet.PrimaryRecord{VoteState: fleet.VoteStateTimeout}, 1000, false)
		Expect(need).To(BeTrue())
		Expect(purge).To(BeFalse())
	})
})

var _ = Describe("Run", func() {
	var adapter *memory.Adapter
	var px *fakeProxy

	BeforeEach(func() {
		adapter = memory.New()
		px = &fakeProxy{remainingMs: 60_000}
	})

	It("elects an eligible candidate when no record exists", func() {
		self := selfVm("vm-1", "primary-group")
		result, err := Run(context.Background(), adapter, px, Params{
			Self:                    self,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			Now:                     func() int64 { return 1_000_000 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(OutcomeBecamePrimary))
		Expect(result.Record.VmID).To(Equal("vm-1"))
		Expect(result.Record.VoteState).To(Equal(fleet.VoteStateDone))
	})

	It("reports the other primary when a healthy done record already exists", func() {
		other := selfVm("vm-2", "primary-group")
		_, err := Run(context.Background(), adapter, px, Params{
			Self:                    other,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			Now:                     func() int64 { return 1_000_000 },
		})
		Expect(err).NotTo(HaveOccurred())

		self := selfVm("vm-1", "primary-group")
		result, err := Run(context.Background(), adapter, px, Params{
			Self:                    self,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			Now:                     func() int64 { return 1_000_100 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(OutcomeOtherPrimary))
		Expect(result.Record.VmID).To(Equal("vm-2"))
	})

	It("returns NoWait immediately for an ineligible candidate when configured not to wait", func() {
		self := selfVm("vm-3", "worker-group")
		result, err := Run(context.Background(), adapter, px, Params{
			Self:                    self,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			NoWait:                  true,
			Now:                     func() int64 { return 1_000_000 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(OutcomeNoWait))
	})

	It("purges and re-elects when the incumbent primary turns unhealthy", func() {
		incumbent := selfVm("vm-4", "primary-group")
		_, err := Run(context.Background(), adapter, px, Params{
			Self:                    incumbent,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			Now:                     func() int64 { return 1_000_000 },
		})
		Expect(err).NotTo(HaveOccurred())

		challenger := selfVm("vm-5", "primary-group")
		result, err := Run(context.Background(), adapter, px, Params{
			Self:                    challenger,
			PrimaryScalingGroupName: "primary-group",
			ElectionTimeoutSec:      30,
			PrimaryUnhealthy:        true,
			Now:                     func() int64 { return 1_000_100 },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(OutcomeBecamePrimary))
		Expect(result.Record.VmID).To(Equal("vm-5"))
	})
})
