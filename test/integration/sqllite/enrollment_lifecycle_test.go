package sqllite

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/internal/repository"
	"github.com/outflowhq/outflow/test/integration"
)

func seedWorkflow(t *testing.T, db *sql.DB, clock *integration.FakeClock) (*repository.WorkflowDefinitionRepository, *domain.WorkflowDefinition) {
	t.Helper()
	orgs := repository.NewOrganizationRepository(db, clock)
	org := &domain.Organization{Name: "Acme", BillingPlan: domain.PlanUnlimited}
	if _, err := orgs.Save(org); err != nil {
		t.Fatalf("Failed to save organization: %v", err)
	}

	defs := repository.NewWorkflowDefinitionRepository(db, clock)
	def := &domain.WorkflowDefinition{
		OrganizationID: org.ID,
		Name:           "onboarding",
		IsActive:       true,
		Steps: []domain.WorkflowStep{
			{ClientID: "w1", Order: 1, ActionType: domain.ActionWait,
				Config: &domain.WaitConfig{Duration: 1, Unit: domain.WaitDays}},
			{ClientID: "rm", Order: 2, ActionType: domain.ActionRemove,
				Config: &domain.RemoveConfig{}},
		},
	}
	if _, err := defs.Save(def); err != nil {
		t.Fatalf("Failed to save workflow definition: %v", err)
	}
	return defs, def
}

func newEnrollment(def *domain.WorkflowDefinition, contactID string, eligibleAt time.Time) *domain.Enrollment {
	return &domain.Enrollment{
		ExternalID:          uuid.NewString(),
		WorkflowID:          def.ID,
		OrganizationID:      def.OrganizationID,
		ContactID:           contactID,
		CurrentStepClientID: "w1",
		Status:              domain.EnrollmentPending,
		NextEligibleAt:      sql.NullTime{Time: eligibleAt, Valid: true},
	}
}

func TestDefinitionRoundTripKeepsStepConfigs(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	defs, def := seedWorkflow(t, db, clock)

	loaded, err := defs.FindByID(def.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if len(loaded.Steps) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(loaded.Steps))
	}
	wait, ok := loaded.Steps[0].Config.(*domain.WaitConfig)
	if !ok {
		t.Fatalf("Expected *WaitConfig after DB round trip, got %T", loaded.Steps[0].Config)
	}
	if wait.Interval() != 24*time.Hour {
		t.Errorf("Expected a 24h wait, got %s", wait.Interval())
	}
}

func TestFindDue_RespectsEligibilityAndActiveFlag(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	defs, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	due := newEnrollment(def, "contact-due", clock.Now().Add(-time.Minute))
	if _, err := enrs.Save(due); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	future := newEnrollment(def, "contact-future", clock.Now().Add(time.Hour))
	if _, err := enrs.Save(future); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := enrs.FindDue(10)
	if err != nil {
		t.Fatalf("FindDue failed: %v", err)
	}
	if len(*found) != 1 || (*found)[0].ContactID != "contact-due" {
		t.Fatalf("Expected only the past-eligible enrollment, got %+v", *found)
	}

	// deactivating the workflow hides its enrollments from the scheduler
	if err := defs.SetActive(def.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	found, err = enrs.FindDue(10)
	if err != nil {
		t.Fatalf("FindDue failed: %v", err)
	}
	if len(*found) != 0 {
		t.Errorf("Expected no due enrollments for an inactive workflow, got %d", len(*found))
	}
}

func TestClaim_VersionGateAllowsOneWinner(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	_, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	enr := newEnrollment(def, "contact-1", clock.Now().Add(-time.Minute))
	if _, err := enrs.Save(enr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !enrs.Claim(enr.ID, "executor-a", enr.Version) {
		t.Fatal("Expected the first claim to win")
	}
	if enrs.Claim(enr.ID, "executor-b", enr.Version) {
		t.Fatal("Expected the second claim on the same version to lose")
	}

	if err := enrs.ClearClaim(enr.ID); err != nil {
		t.Fatalf("ClearClaim failed: %v", err)
	}
	reloaded, err := enrs.FindByID(enr.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if reloaded.ClaimedBy.Valid {
		t.Error("Expected the claim cleared")
	}
	if reloaded.Version != enr.Version+1 {
		t.Errorf("Expected version bumped once by the claim, got %d", reloaded.Version)
	}
}

func TestUpdateProgress_StaleVersionLoses(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	_, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	enr := newEnrollment(def, "contact-1", clock.Now())
	if _, err := enrs.Save(enr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	winner := *enr
	winner.Status = domain.EnrollmentWaiting
	ok, err := enrs.UpdateProgress(&winner)
	if err != nil || !ok {
		t.Fatalf("Expected the first write to land, got (%v, %v)", ok, err)
	}

	loser := *enr // still holds the original version
	loser.Status = domain.EnrollmentExecuting
	ok, err = enrs.UpdateProgress(&loser)
	if err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if ok {
		t.Fatal("Expected the stale write to be rejected")
	}

	reloaded, _ := enrs.FindByID(enr.ID)
	if reloaded.Status != domain.EnrollmentWaiting {
		t.Errorf("Expected the winner's status to stand, got %s", reloaded.Status)
	}
}

func TestLiveEnrollmentPairIsUnique(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	_, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	first := newEnrollment(def, "contact-1", clock.Now())
	if _, err := enrs.Save(first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dup := newEnrollment(def, "contact-1", clock.Now())
	if _, err := enrs.Save(dup); err == nil {
		t.Fatal("Expected the unique live-pair index to reject the duplicate")
	}

	// a completed enrollment frees the pair for re-enrollment
	first.Status = domain.EnrollmentCompleted
	first.CurrentStepClientID = ""
	if ok, err := enrs.UpdateProgress(first); err != nil || !ok {
		t.Fatalf("Failed to complete the first enrollment: (%v, %v)", ok, err)
	}
	again := newEnrollment(def, "contact-1", clock.Now())
	if _, err := enrs.Save(again); err != nil {
		t.Fatalf("Expected re-enrollment after completion, got %v", err)
	}
}

func TestReleaseStaleClaim(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	_, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	enr := newEnrollment(def, "contact-1", clock.Now().Add(-time.Minute))
	if _, err := enrs.Save(enr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !enrs.Claim(enr.ID, "dead-executor", enr.Version) {
		t.Fatal("Claim failed")
	}

	clock.Add(10 * time.Minute)

	stale, err := enrs.FindStaleClaims(clock.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("FindStaleClaims failed: %v", err)
	}
	if len(*stale) != 1 {
		t.Fatalf("Expected one stale claim, got %d", len(*stale))
	}

	if !enrs.ReleaseStaleClaim(enr.ID, (*stale)[0].ClaimedAt.Time) {
		t.Fatal("Expected the stale claim released")
	}
	reloaded, _ := enrs.FindByID(enr.ID)
	if reloaded.ClaimedBy.Valid {
		t.Error("Expected claimed_by cleared after repair")
	}
}

func TestResume_OnlyMovesPausedEnrollments(t *testing.T) {
	db := setupDatabase(t)
	clock := integration.NewFakeClock(time.Now())
	_, def := seedWorkflow(t, db, clock)
	enrs := repository.NewEnrollmentRepository(db, clock)

	enr := newEnrollment(def, "contact-1", clock.Now())
	if _, err := enrs.Save(enr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resumed, err := enrs.Resume(enr.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed {
		t.Fatal("Expected resume to refuse a non-paused enrollment")
	}

	enr.Status = domain.EnrollmentPaused
	enr.PauseReason = sql.NullString{String: domain.PauseReasonInsufficientCredits, Valid: true}
	if ok, err := enrs.UpdateProgress(enr); err != nil || !ok {
		t.Fatalf("Failed to pause: (%v, %v)", ok, err)
	}

	resumed, err = enrs.Resume(enr.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !resumed {
		t.Fatal("Expected the paused enrollment resumed")
	}
	reloaded, _ := enrs.FindByID(enr.ID)
	if reloaded.Status != domain.EnrollmentPending || reloaded.PauseReason.Valid {
		t.Errorf("Expected PENDING with no pause reason, got %s %v", reloaded.Status, reloaded.PauseReason)
	}
}
