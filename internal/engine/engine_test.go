package engine_test

import (
	"context"
	"testing"
	"time"

	"guildpay/internal/config"
	"guildpay/internal/db"
	"guildpay/internal/domain"
	"guildpay/internal/engine"
	"guildpay/internal/fault"
	"guildpay/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env := testEnv{Ctx: context.Background(), now: &now}
	eng.Now = func() time.Time { return *env.now }
	eng.Events.Now = eng.Now
	env.Engine = eng
	return env
}

func (env testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func (env testEnv) unix() int64 {
	return env.now.Unix()
}

// seedGuild creates a guild owned by alice with carol enrolled as
// contributor.
func (env testEnv) seedGuild(t *testing.T) domain.Guild {
	t.Helper()
	g, err := env.Engine.CreateGuild(env.Ctx, "Core Guild", "engineering", "alice")
	if err != nil {
		t.Fatalf("create guild: %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "alice", "carol", domain.RoleContributor); err != nil {
		t.Fatalf("add contributor: %v", err)
	}
	return g
}

func (env testEnv) deposit(t *testing.T, account string, amount int64) {
	t.Helper()
	if err := env.Engine.Deposit(env.Ctx, account, "USDC", amount, "alice"); err != nil {
		t.Fatalf("deposit to %s: %v", account, err)
	}
}

func (env testEnv) balance(t *testing.T, account string) int64 {
	t.Helper()
	v, err := env.Engine.Ledger.Balance(env.Ctx, "USDC", account)
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return v
}

func TestBountyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 1000)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID:      g.ID,
		Creator:      "alice",
		Title:        "Fix the indexer",
		RewardAmount: 500,
		ExpiresAt:    env.unix() + 1000,
	})
	if err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	if b.Status != domain.BountyAwaitingFunds {
		t.Fatalf("expected awaiting_funds, got %s", b.Status)
	}

	b, err = env.Engine.FundBounty(env.Ctx, b.ID, "alice", 200)
	if err != nil {
		t.Fatalf("fund 200: %v", err)
	}
	if b.Status != domain.BountyAwaitingFunds || b.FundedAmount != 200 {
		t.Fatalf("partial funding: status=%s funded=%d", b.Status, b.FundedAmount)
	}
	b, err = env.Engine.FundBounty(env.Ctx, b.ID, "alice", 300)
	if err != nil {
		t.Fatalf("fund 300: %v", err)
	}
	if b.Status != domain.BountyOpen || b.FundedAmount != 500 {
		t.Fatalf("full funding: status=%s funded=%d", b.Status, b.FundedAmount)
	}
	if got := env.balance(t, "escrow"); got != 500 {
		t.Fatalf("escrow balance = %d, want 500", got)
	}

	if _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "carol"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// exactly one claim wins
	if _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "dave"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("second claim: got %v, want invalid_state", err)
	}

	if _, err := env.Engine.SubmitWork(env.Ctx, b.ID, "dave", "https://example.com/pr/1"); !fault.IsKind(err, fault.Unauthorized) {
		t.Fatalf("submit by non-claimer: got %v, want unauthorized", err)
	}
	b, err = env.Engine.SubmitWork(env.Ctx, b.ID, "carol", "https://example.com/pr/1")
	if err != nil || b.Status != domain.BountyUnderReview {
		t.Fatalf("submit: %v status=%s", err, b.Status)
	}

	// release before approval is rejected
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, b.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("early release: got %v, want invalid_state", err)
	}

	b, err = env.Engine.ApproveBounty(env.Ctx, b.ID, "alice")
	if err != nil || b.Status != domain.BountyCompleted {
		t.Fatalf("approve: %v status=%s", err, b.Status)
	}
	b, err = env.Engine.ReleaseEscrow(env.Ctx, b.ID, "alice")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if b.FundedAmount != 0 {
		t.Fatalf("funded after release = %d, want 0", b.FundedAmount)
	}
	if got := env.balance(t, "carol"); got != 500 {
		t.Fatalf("claimer balance = %d, want 500", got)
	}
	if got := env.balance(t, "escrow"); got != 0 {
		t.Fatalf("escrow balance = %d, want 0", got)
	}
	if got := env.balance(t, "alice"); got != 500 {
		t.Fatalf("funder balance = %d, want 500", got)
	}
}

func TestFundBountyInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 100)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 200); !fault.IsKind(err, fault.Custody) {
		t.Fatalf("overdraw: got %v, want custody", err)
	}
	// nothing moved
	if got := env.balance(t, "alice"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	b, err = env.Engine.Repo.GetBounty(env.Ctx, b.ID)
	if err != nil || b.FundedAmount != 0 {
		t.Fatalf("funded = %d, want 0 (%v)", b.FundedAmount, err)
	}
}

func TestCancelBountyRefundsCreator(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 1000)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 400); err != nil {
		t.Fatal(err)
	}
	b, err = env.Engine.CancelBounty(env.Ctx, b.ID, "alice")
	if err != nil || b.Status != domain.BountyCancelled {
		t.Fatalf("cancel: %v status=%s", err, b.Status)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Fatalf("creator balance = %d, want 1000", got)
	}
	if got := env.balance(t, "escrow"); got != 0 {
		t.Fatalf("escrow balance = %d, want 0", got)
	}
	// cancelled is terminal
	if _, err := env.Engine.CancelBounty(env.Ctx, b.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("double cancel: got %v, want invalid_state", err)
	}
}

func TestBountyLazyExpiryOnTouch(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 1000)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.advance(200 * time.Second)

	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 100); !fault.IsKind(err, fault.Expired) {
		t.Fatalf("fund past due: got %v, want expired", err)
	}
	// the expired transition committed even though the fund failed
	b, err = env.Engine.Repo.GetBounty(env.Ctx, b.ID)
	if err != nil || b.Status != domain.BountyExpired {
		t.Fatalf("status = %s, want expired (%v)", b.Status, err)
	}
	// settling an already-terminal bounty is a no-op
	if _, did, err := env.Engine.ExpireBounty(env.Ctx, b.ID, "alice"); err != nil || did {
		t.Fatalf("expire terminal: did=%v err=%v", did, err)
	}
}

func TestExpireBountyRefundsAndNoops(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 1000)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 500); err != nil {
		t.Fatal(err)
	}

	// before the deadline nothing happens
	if _, did, err := env.Engine.ExpireBounty(env.Ctx, b.ID, "alice"); err != nil || did {
		t.Fatalf("premature expire: did=%v err=%v", did, err)
	}

	env.advance(200 * time.Second)
	b, did, err := env.Engine.ExpireBounty(env.Ctx, b.ID, "alice")
	if err != nil || !did {
		t.Fatalf("expire: did=%v err=%v", did, err)
	}
	if b.Status != domain.BountyExpired || b.FundedAmount != 0 {
		t.Fatalf("status=%s funded=%d", b.Status, b.FundedAmount)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Fatalf("creator balance = %d, want 1000", got)
	}
}

func newProject(t *testing.T, env testEnv, g domain.Guild, sequential bool) (domain.Project, []domain.Milestone) {
	t.Helper()
	p, ms, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		GuildID:      g.ID,
		Actor:        "alice",
		Contributor:  "carol",
		Treasury:     "guild:treasury",
		IsSequential: sequential,
		Milestones: []domain.MilestoneInput{
			{Title: "Design", PaymentAmount: 100000, Deadline: env.unix() + 1000},
			{Title: "Build", PaymentAmount: 200000, Deadline: env.unix() + 2000},
		},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p, ms
}

func TestSequentialProjectFlow(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 300000)
	p, ms := newProject(t, env, g, true)

	if p.TotalAmount != 300000 || p.AllocatedAmount != 300000 || p.ReleasedAmount != 0 {
		t.Fatalf("amounts: total=%d allocated=%d released=%d", p.TotalAmount, p.AllocatedAmount, p.ReleasedAmount)
	}

	// second milestone gated behind the first
	if _, err := env.Engine.StartMilestone(env.Ctx, ms[1].ID, "carol"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("start out of order: got %v, want invalid_state", err)
	}

	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); err != nil {
		t.Fatalf("start m1: %v", err)
	}
	if _, err := env.Engine.SubmitMilestone(env.Ctx, ms[0].ID, "carol", "https://example.com/design"); err != nil {
		t.Fatalf("submit m1: %v", err)
	}
	m, err := env.Engine.ApproveMilestone(env.Ctx, ms[0].ID, "alice")
	if err != nil || !m.PaymentReleased {
		t.Fatalf("approve m1: %v released=%v", err, m.PaymentReleased)
	}
	if got := env.balance(t, "carol"); got != 100000 {
		t.Fatalf("contributor balance = %d, want 100000", got)
	}
	prog, err := env.Engine.ProjectProgress(env.Ctx, p.ID)
	if err != nil || prog.Completed != 1 || prog.Total != 2 || prog.Percentage != 50 {
		t.Fatalf("progress = %+v (%v)", prog, err)
	}

	if _, err := env.Engine.StartMilestone(env.Ctx, ms[1].ID, "carol"); err != nil {
		t.Fatalf("start m2: %v", err)
	}
	if _, err := env.Engine.SubmitMilestone(env.Ctx, ms[1].ID, "carol", "https://example.com/build"); err != nil {
		t.Fatalf("submit m2: %v", err)
	}
	if _, err := env.Engine.ApproveMilestone(env.Ctx, ms[1].ID, "alice"); err != nil {
		t.Fatalf("approve m2: %v", err)
	}

	prog, err = env.Engine.ProjectProgress(env.Ctx, p.ID)
	if err != nil || prog.Completed != 2 || prog.Percentage != 100 {
		t.Fatalf("final progress = %+v (%v)", prog, err)
	}
	p, err = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || p.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s (%v)", p.Status, err)
	}
	if p.ReleasedAmount != p.TotalAmount {
		t.Fatalf("released = %d, want %d", p.ReleasedAmount, p.TotalAmount)
	}
	if got := env.balance(t, "guild:treasury"); got != 0 {
		t.Fatalf("treasury balance = %d, want 0", got)
	}
}

func TestParallelProjectAnyOrder(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 300000)
	p, ms := newProject(t, env, g, false)

	// parallel projects allow starting in any order
	for _, id := range []int64{ms[1].ID, ms[0].ID} {
		if _, err := env.Engine.StartMilestone(env.Ctx, id, "carol"); err != nil {
			t.Fatalf("start %d: %v", id, err)
		}
		if _, err := env.Engine.SubmitMilestone(env.Ctx, id, "carol", "https://example.com/work"); err != nil {
			t.Fatalf("submit %d: %v", id, err)
		}
		if _, err := env.Engine.ApproveMilestone(env.Ctx, id, "alice"); err != nil {
			t.Fatalf("approve %d: %v", id, err)
		}
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || p.Status != domain.ProjectCompleted || p.ReleasedAmount != p.TotalAmount {
		t.Fatalf("project: status=%s released=%d (%v)", p.Status, p.ReleasedAmount, err)
	}
}

func TestMilestoneDeadlineExtendRevives(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 300000)

	_, ms, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		GuildID:     g.ID,
		Actor:       "alice",
		Contributor: "carol",
		Treasury:    "guild:treasury",
		Milestones: []domain.MilestoneInput{
			{Title: "Soon", PaymentAmount: 100000, Deadline: env.unix() + 10},
			{Title: "Later", PaymentAmount: 200000, Deadline: env.unix() + 20},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	env.advance(15 * time.Second)
	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); !fault.IsKind(err, fault.Expired) {
		t.Fatalf("start past due: got %v, want expired", err)
	}
	m, err := env.Engine.Repo.GetMilestone(env.Ctx, ms[0].ID)
	if err != nil || m.Status != domain.MilestoneExpired {
		t.Fatalf("status = %s, want expired (%v)", m.Status, err)
	}

	m, err = env.Engine.ExtendMilestoneDeadline(env.Ctx, ms[0].ID, "alice", env.unix()+100)
	if err != nil || m.Status != domain.MilestonePending {
		t.Fatalf("extend: %v status=%s", err, m.Status)
	}
	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); err != nil {
		t.Fatalf("start after extend: %v", err)
	}
}

func TestRejectMilestone(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 300000)
	_, ms := newProject(t, env, g, false)

	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); err != nil {
		t.Fatal(err)
	}
	sub, err := env.Engine.SubmitMilestone(env.Ctx, ms[0].ID, "carol", "https://example.com/work")
	if err != nil {
		t.Fatal(err)
	}
	m, err := env.Engine.RejectMilestone(env.Ctx, ms[0].ID, "alice", "does not meet the brief")
	if err != nil || m.Status != domain.MilestoneRejected {
		t.Fatalf("reject: %v status=%s", err, m.Status)
	}
	if m.Version != sub.Version+1 {
		t.Fatalf("version = %d, want %d", m.Version, sub.Version+1)
	}
	if m.PaymentReleased {
		t.Fatalf("rejection must not release payment")
	}
	if got := env.balance(t, "carol"); got != 0 {
		t.Fatalf("contributor balance = %d, want 0", got)
	}
}

func TestApproveMilestoneUnderfundedTreasury(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 50000)
	_, ms := newProject(t, env, g, false)

	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitMilestone(env.Ctx, ms[0].ID, "carol", "https://example.com/work"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveMilestone(env.Ctx, ms[0].ID, "alice"); !fault.IsKind(err, fault.Custody) {
		t.Fatalf("underfunded approve: got %v, want custody", err)
	}
	// the approval rolled back whole
	m, err := env.Engine.Repo.GetMilestone(env.Ctx, ms[0].ID)
	if err != nil || m.Status != domain.MilestoneSubmitted || m.PaymentReleased {
		t.Fatalf("milestone: status=%s released=%v (%v)", m.Status, m.PaymentReleased, err)
	}
}

func TestAddMilestoneGrowsTotals(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	p, _ := newProject(t, env, g, false)

	if _, err := env.Engine.AddMilestone(env.Ctx, p.ID, "alice", domain.MilestoneInput{
		Title: "Polish", PaymentAmount: 50000, Deadline: env.unix() + 3000,
	}); err != nil {
		t.Fatalf("add milestone: %v", err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || p.TotalAmount != 350000 || p.AllocatedAmount != 350000 {
		t.Fatalf("totals: total=%d allocated=%d (%v)", p.TotalAmount, p.AllocatedAmount, err)
	}

	if _, err := env.Engine.CancelProject(env.Ctx, p.ID, "alice"); err != nil {
		t.Fatalf("cancel project: %v", err)
	}
	if _, err := env.Engine.AddMilestone(env.Ctx, p.ID, "alice", domain.MilestoneInput{
		Title: "Too late", PaymentAmount: 1, Deadline: env.unix() + 3000,
	}); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("add to cancelled: got %v, want invalid_state", err)
	}
}

func TestApproveMilestoneOnCancelledProject(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "guild:treasury", 300000)
	p, ms := newProject(t, env, g, false)

	if _, err := env.Engine.StartMilestone(env.Ctx, ms[0].ID, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitMilestone(env.Ctx, ms[0].ID, "carol", "https://example.com/work"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelProject(env.Ctx, p.ID, "alice"); err != nil {
		t.Fatalf("cancel project: %v", err)
	}

	if _, err := env.Engine.ApproveMilestone(env.Ctx, ms[0].ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("approve on cancelled project: got %v, want invalid_state", err)
	}
	// nothing paid out, cancellation stands
	m, err := env.Engine.Repo.GetMilestone(env.Ctx, ms[0].ID)
	if err != nil || m.Status != domain.MilestoneSubmitted || m.PaymentReleased {
		t.Fatalf("milestone: status=%s released=%v (%v)", m.Status, m.PaymentReleased, err)
	}
	p, err = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || p.Status != domain.ProjectCancelled || p.ReleasedAmount != 0 {
		t.Fatalf("project: status=%s released=%d (%v)", p.Status, p.ReleasedAmount, err)
	}
	if got := env.balance(t, "guild:treasury"); got != 300000 {
		t.Fatalf("treasury balance = %d, want 300000", got)
	}
	if got := env.balance(t, "carol"); got != 0 {
		t.Fatalf("contributor balance = %d, want 0", got)
	}
}

func TestReleaseZeroRewardBounty(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "volunteer task", RewardAmount: 0, ExpiresAt: env.unix() + 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.BountyOpen {
		t.Fatalf("zero-reward bounty status = %s, want open", b.Status)
	}
	if _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitWork(env.Ctx, b.ID, "carol", "https://example.com/pr"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveBounty(env.Ctx, b.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	// release with no escrow succeeds as a no-op
	b, err = env.Engine.ReleaseEscrow(env.Ctx, b.ID, "alice")
	if err != nil {
		t.Fatalf("zero-fund release: %v", err)
	}
	if b.Status != domain.BountyCompleted || b.FundedAmount != 0 {
		t.Fatalf("status=%s funded=%d", b.Status, b.FundedAmount)
	}
	if got := env.balance(t, "carol"); got != 0 {
		t.Fatalf("claimer balance = %d, want 0", got)
	}
}

func TestClaimedBountyExpiresOnTouch(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 1000)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 500); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "carol"); err != nil {
		t.Fatal(err)
	}
	env.advance(200 * time.Second)

	// touching a past-due claimed bounty commits the expiry first
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 100); !fault.IsKind(err, fault.Expired) {
		t.Fatalf("fund past due: got %v, want expired", err)
	}
	b, err = env.Engine.Repo.GetBounty(env.Ctx, b.ID)
	if err != nil || b.Status != domain.BountyExpired {
		t.Fatalf("status = %s, want expired (%v)", b.Status, err)
	}
	// escrow stays recoverable through cancel
	if _, err := env.Engine.CancelBounty(env.Ctx, b.ID, "alice"); err != nil {
		t.Fatalf("cancel expired: %v", err)
	}
	if got := env.balance(t, "alice"); got != 1000 {
		t.Fatalf("creator balance = %d, want 1000", got)
	}
}

func TestDisputeLockBlocksSettlement(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 500)

	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 500); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitWork(env.Ctx, b.ID, "carol", "https://example.com/pr"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveBounty(env.Ctx, b.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.LockDispute(env.Ctx, domain.ItemKindBounty, b.ID, "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, b.ID, "alice"); !fault.IsKind(err, fault.DisputeLocked) {
		t.Fatalf("locked release: got %v, want dispute_locked", err)
	}
	if _, err := env.Engine.CancelBounty(env.Ctx, b.ID, "alice"); !fault.IsKind(err, fault.DisputeLocked) {
		t.Fatalf("locked cancel: got %v, want dispute_locked", err)
	}

	if err := env.Engine.UnlockDispute(env.Ctx, domain.ItemKindBounty, b.ID, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, b.ID, "alice"); err != nil {
		t.Fatalf("release after unlock: %v", err)
	}
	if got := env.balance(t, "carol"); got != 500 {
		t.Fatalf("claimer balance = %d, want 500", got)
	}
}

func TestGuildMembershipRules(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGuild(env.Ctx, "Rules", "", "alice")
	if err != nil {
		t.Fatal(err)
	}

	// members can enroll contributors, contributors cannot enroll anyone
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "alice", "mia", domain.RoleMember); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "mia", "carol", domain.RoleContributor); err != nil {
		t.Fatalf("member adds contributor: %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "carol", "dave", domain.RoleContributor); !fault.IsKind(err, fault.Unauthorized) {
		t.Fatalf("contributor adds: got %v, want unauthorized", err)
	}
	// granting admin takes an admin
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "mia", "dave", domain.RoleAdmin); !fault.IsKind(err, fault.Unauthorized) {
		t.Fatalf("member grants admin: got %v, want unauthorized", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, g.ID, "alice", "mia", domain.RoleMember); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("duplicate add: got %v, want invalid_state", err)
	}

	// the last owner can neither leave nor be demoted
	if err := env.Engine.RemoveMember(env.Ctx, g.ID, "alice", "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("remove last owner: got %v, want invalid_state", err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, g.ID, "alice", "alice", domain.RoleAdmin); !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("demote last owner: got %v, want invalid_state", err)
	}

	// a second owner frees the first to step down
	if _, err := env.Engine.UpdateRole(env.Ctx, g.ID, "alice", "mia", domain.RoleOwner); err != nil {
		t.Fatalf("promote to owner: %v", err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, g.ID, "alice", "alice", domain.RoleAdmin); err != nil {
		t.Fatalf("demote with co-owner: %v", err)
	}

	// anyone may leave on their own
	if err := env.Engine.RemoveMember(env.Ctx, g.ID, "carol", "carol"); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	got, err := env.Engine.Repo.GetGuild(env.Ctx, g.ID)
	if err != nil || got.MemberCount != 2 {
		t.Fatalf("member count = %d, want 2 (%v)", got.MemberCount, err)
	}
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	g := env.seedGuild(t)
	env.deposit(t, "alice", 500)
	b, err := env.Engine.CreateBounty(env.Ctx, engine.BountyCreateOptions{
		GuildID: g.ID, Creator: "alice", Title: "task", RewardAmount: 500, ExpiresAt: env.unix() + 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FundBounty(env.Ctx, b.ID, "alice", 500); err != nil {
		t.Fatal(err)
	}

	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 100, 0, 0)
	if err != nil || len(evts) == 0 {
		t.Fatalf("events: %v (%d)", err, len(evts))
	}
	last := int64(0)
	for _, evt := range evts {
		if evt.ID <= last {
			t.Fatalf("sequence not strictly increasing at %d", evt.ID)
		}
		last = evt.ID
	}
	latest, err := env.Engine.Repo.LatestEventID(env.Ctx, 0)
	if err != nil || latest != last {
		t.Fatalf("latest = %d, want %d (%v)", latest, last, err)
	}
}
