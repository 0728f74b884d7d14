package postgres

import (
	"context"
	"fmt"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION CANDIDATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CandidateRepository implements promotion.CandidateRepository for
// PostgreSQL. Lists are stored flattened, one row per candidate, with
// needs_review separating the two halves of each list.
type CandidateRepository struct {
	conn *Connection
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(conn *Connection) *CandidateRepository {
	return &CandidateRepository{conn: conn}
}

// SaveForRun stores the candidate lists produced by one run, replacing any
// lists already stored for it.
func (r *CandidateRepository) SaveForRun(ctx context.Context, runID shared.RunID, lists []promotion.CandidateList) error {
	deleteExisting := `DELETE FROM promotion_candidates WHERE run_id = $1`

	insertCandidate := `
		INSERT INTO promotion_candidates (run_id, transition, ign, needs_review, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteExisting, runID.String()); err != nil {
			return fmt.Errorf("failed to clear candidates: %w", err)
		}

		batch := &pgx.Batch{}
		for _, list := range lists {
			order := 0
			for _, id := range list.Clear {
				batch.Queue(insertCandidate, runID.String(), list.Transition.Name, id.String(), false, order)
				order++
			}
			for _, id := range list.NeedsReview {
				batch.Queue(insertCandidate, runID.String(), list.Transition.Name, id.String(), true, order)
				order++
			}
		}

		if batch.Len() == 0 {
			return nil
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to save candidate: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist candidates for run %s: %w", runID, err)
	}

	return nil
}

// FindByRun returns the candidate lists stored for a run, grouped by
// transition in stored order. Loaded lists carry only the transition name.
func (r *CandidateRepository) FindByRun(ctx context.Context, runID shared.RunID) ([]promotion.CandidateList, error) {
	query := `
		SELECT transition, ign, needs_review
		FROM promotion_candidates
		WHERE run_id = $1
		ORDER BY id ASC
	`

	rows, err := r.conn.Query(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates for run %s: %w", runID, err)
	}
	defer rows.Close()

	var lists []promotion.CandidateList
	index := make(map[string]int)

	for rows.Next() {
		var (
			transition  string
			ign         string
			needsReview bool
		)
		if err := rows.Scan(&transition, &ign, &needsReview); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}

		i, ok := index[transition]
		if !ok {
			i = len(lists)
			index[transition] = i
			lists = append(lists, promotion.CandidateList{
				Transition: promotion.Transition{Name: transition},
			})
		}

		identity := shared.Identity(ign)
		if needsReview {
			lists[i].NeedsReview = append(lists[i].NeedsReview, identity)
		} else {
			lists[i].Clear = append(lists[i].Clear, identity)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate rows: %w", err)
	}

	return lists, nil
}
