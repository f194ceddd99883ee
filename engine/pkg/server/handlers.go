package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/quizpot/quizpot/engine/pkg/fees"
	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/merkle"
	"github.com/quizpot/quizpot/engine/pkg/metrics"
	"github.com/quizpot/quizpot/engine/pkg/protocol"
	"github.com/quizpot/quizpot/engine/pkg/round"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// writeServiceError maps domain sentinels to HTTP statuses. Unknown errors
// are reported to sentry and returned as 500 without leaking detail.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	metrics.RecordOperation(op, err)

	switch {
	case errors.Is(err, round.ErrInvalidParameters),
		errors.Is(err, ledger.ErrMalformedAsset),
		errors.Is(err, merkle.ErrMalformedHash),
		errors.Is(err, fees.ErrRateOutOfRange),
		errors.Is(err, fees.ErrCombinedRateOutOfRange),
		errors.Is(err, fees.ErrAmountOutOfRange),
		errors.Is(err, fees.ErrPercentOutOfRange),
		errors.Is(err, protocol.ErrRateTooHigh):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, round.ErrUnauthorized), errors.Is(err, protocol.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrBelowReservedFloor):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, round.ErrAlreadyDone),
		errors.Is(err, round.ErrNotYetEligible),
		errors.Is(err, round.ErrNoLongerEligible),
		errors.Is(err, round.ErrIneligibleForClosure),
		errors.Is(err, round.ErrWinnersNotDeclared),
		errors.Is(err, ledger.ErrVaultClosed),
		errors.Is(err, protocol.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, round.ErrRoundNotFound),
		errors.Is(err, round.ErrParticipantNotFound),
		errors.Is(err, round.ErrWinnerNotFound),
		errors.Is(err, round.ErrNotSettled),
		errors.Is(err, ledger.ErrVaultNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, protocol.ErrPaused), errors.Is(err, protocol.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("server: operation failed", "op", op, "error", err)
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func roundIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("malformed round id")
	}
	return id, nil
}

func pubkeyParam(r *http.Request, name string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(chi.URLParam(r, name))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("malformed %s: %w", name, err)
	}
	return pk, nil
}

func parsePubkey(field, s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("malformed %s: %w", field, err)
	}
	return pk, nil
}

func parseLeaves(raw []string) ([]merkle.Hash, error) {
	leaves := make([]merkle.Hash, len(raw))
	for i, s := range raw {
		h, err := merkle.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("correct leaf %d: %w", i, err)
		}
		leaves[i] = h
	}
	return leaves, nil
}

// resolveRateBps accepts the rate either in basis points or as a whole
// percent, but never both.
func resolveRateBps(bps *uint16, percent *uint16) (uint16, error) {
	switch {
	case bps != nil && percent != nil:
		return 0, errors.New("specify the rate in bps or percent, not both")
	case percent != nil:
		return fees.PercentToBps(*percent)
	case bps != nil:
		return *bps, nil
	default:
		return 0, nil
	}
}

// ---- DTOs ----

type roundDTO struct {
	ID               int64  `json:"id"`
	Organizer        string `json:"organizer"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	Asset            string `json:"asset"`
	EntryFee         uint64 `json:"entryFee"`
	OrganizerRateBps uint16 `json:"organizerRateBps"`
	Donation         uint64 `json:"donation"`
	StartsAtMs       int64  `json:"startsAtMs"`
	EndsAtMs         int64  `json:"endsAtMs"`
	MaxWinners       int    `json:"maxWinners"`
	Commitment       string `json:"commitment"`
	QuestionCount    int    `json:"questionCount"`
	EvenSplit        bool   `json:"evenSplit"`
	AllWinners       bool   `json:"allWinners"`
	Curve            string `json:"curve"`
	State            string `json:"state"`
	Settled          bool   `json:"settled"`
}

func (s *Server) toRoundDTO(r round.Round) roundDTO {
	return roundDTO{
		ID:               r.ID,
		Organizer:        r.Organizer.String(),
		Code:             r.Code,
		Name:             r.Name,
		Asset:            r.Asset.String(),
		EntryFee:         r.EntryFee,
		OrganizerRateBps: r.OrganizerRateBps,
		Donation:         r.Donation,
		StartsAtMs:       r.StartsAtMs,
		EndsAtMs:         r.EndsAtMs,
		MaxWinners:       r.MaxWinners,
		Commitment:       r.Commitment.String(),
		QuestionCount:    len(r.CorrectLeaves),
		EvenSplit:        r.EvenSplit,
		AllWinners:       r.AllWinners,
		Curve:            r.Curve,
		State:            string(r.State(s.svc.NowMs())),
		Settled:          r.Settled,
	}
}

type participantDTO struct {
	RoundID       int64  `json:"roundId"`
	Holder        string `json:"holder"`
	JoinedAtMs    int64  `json:"joinedAtMs"`
	Submitted     bool   `json:"submitted"`
	SubmittedAtMs *int64 `json:"submittedAtMs,omitempty"`
	CorrectCount  int    `json:"correctCount"`
	FinishTime    *int64 `json:"finishTime,omitempty"`
}

func toParticipantDTO(p round.Participant) participantDTO {
	return participantDTO{
		RoundID:       p.RoundID,
		Holder:        p.Holder.String(),
		JoinedAtMs:    p.JoinedAtMs,
		Submitted:     p.Submitted(),
		SubmittedAtMs: p.SubmittedAtMs,
		CorrectCount:  p.CorrectCount,
		FinishTime:    p.FinishTime,
	}
}

type winnerDTO struct {
	RoundID      int64  `json:"roundId"`
	Holder       string `json:"holder"`
	Rank         int    `json:"rank"`
	Share        uint64 `json:"share"`
	Claimed      bool   `json:"claimed"`
	ClaimedAtMs  *int64 `json:"claimedAtMs,omitempty"`
	ClaimReceipt string `json:"claimReceipt,omitempty"`
}

func toWinnerDTO(w round.Winner) winnerDTO {
	dto := winnerDTO{
		RoundID:     w.RoundID,
		Holder:      w.Holder.String(),
		Rank:        w.Rank,
		Share:       w.Share,
		Claimed:     w.Claimed,
		ClaimedAtMs: w.ClaimedAtMs,
	}
	if w.ClaimReceipt != nil {
		dto.ClaimReceipt = w.ClaimReceipt.String()
	}
	return dto
}

type settlementDTO struct {
	RoundID       int64  `json:"roundId"`
	Receipt       string `json:"receipt"`
	Distributable uint64 `json:"distributable"`
	TreasuryFee   uint64 `json:"treasuryFee"`
	OrganizerFee  uint64 `json:"organizerFee"`
	PrizePool     uint64 `json:"prizePool"`
	SettledAtMs   int64  `json:"settledAtMs"`
}

func toSettlementDTO(st round.Settlement) settlementDTO {
	return settlementDTO{
		RoundID:       st.RoundID,
		Receipt:       st.Receipt.String(),
		Distributable: st.Distributable,
		TreasuryFee:   st.TreasuryFee,
		OrganizerFee:  st.OrganizerFee,
		PrizePool:     st.PrizePool,
		SettledAtMs:   st.SettledAtMs,
	}
}

type vaultDTO struct {
	RoundID       int64  `json:"roundId"`
	Asset         string `json:"asset"`
	Balance       uint64 `json:"balance"`
	ReservedFloor uint64 `json:"reservedFloor"`
	Closed        bool   `json:"closed"`
}

type protocolDTO struct {
	Operator        string `json:"operator"`
	Treasury        string `json:"treasury"`
	TreasuryRateBps uint16 `json:"treasuryRateBps"`
	Paused          bool   `json:"paused"`
}

// ---- round handlers ----

type createRoundRequest struct {
	Organizer            string   `json:"organizer"`
	Code                 string   `json:"code"`
	Name                 string   `json:"name"`
	Asset                string   `json:"asset"`
	EntryFee             uint64   `json:"entryFee"`
	OrganizerRateBps     *uint16  `json:"organizerRateBps,omitempty"`
	OrganizerRatePercent *uint16  `json:"organizerRatePercent,omitempty"`
	Donation             uint64   `json:"donation"`
	StartsAtMs           int64    `json:"startsAtMs"`
	EndsAtMs             int64    `json:"endsAtMs"`
	MaxWinners           int      `json:"maxWinners"`
	Commitment           string   `json:"commitment"`
	CorrectLeaves        []string `json:"correctLeaves"`
	EvenSplit            bool     `json:"evenSplit"`
	AllWinners           bool     `json:"allWinners"`
	Curve                string   `json:"curve"`
	ReservedFloor        uint64   `json:"reservedFloor"`
}

func (s *Server) createRoundHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rateBps, err := resolveRateBps(req.OrganizerRateBps, req.OrganizerRatePercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment, err := merkle.ParseHash(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leaves, err := parseLeaves(req.CorrectLeaves)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.svc.CreateRound(r.Context(), round.CreateParams{
		Organizer:        organizer,
		Code:             req.Code,
		Name:             req.Name,
		Asset:            asset,
		EntryFee:         req.EntryFee,
		OrganizerRateBps: rateBps,
		Donation:         req.Donation,
		StartsAtMs:       req.StartsAtMs,
		EndsAtMs:         req.EndsAtMs,
		MaxWinners:       req.MaxWinners,
		Commitment:       commitment,
		CorrectLeaves:    leaves,
		EvenSplit:        req.EvenSplit,
		AllWinners:       req.AllWinners,
		Curve:            req.Curve,
		ReservedFloor:    req.ReservedFloor,
	})
	if err != nil {
		s.writeServiceError(w, "create_round", err)
		return
	}
	metrics.RecordOperation("create_round", nil)
	writeJSON(w, http.StatusCreated, s.toRoundDTO(created))
}

type updateRoundRequest struct {
	Organizer            string   `json:"organizer"`
	Name                 *string  `json:"name,omitempty"`
	EntryFee             *uint64  `json:"entryFee,omitempty"`
	OrganizerRateBps     *uint16  `json:"organizerRateBps,omitempty"`
	OrganizerRatePercent *uint16  `json:"organizerRatePercent,omitempty"`
	MaxWinners           *int     `json:"maxWinners,omitempty"`
	EndsAtMs             *int64   `json:"endsAtMs,omitempty"`
	Commitment           *string  `json:"commitment,omitempty"`
	CorrectLeaves        []string `json:"correctLeaves,omitempty"`
	EvenSplit            *bool    `json:"evenSplit,omitempty"`
	AllWinners           *bool    `json:"allWinners,omitempty"`
	Curve                *string  `json:"curve,omitempty"`
}

func (s *Server) updateRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateRoundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := round.UpdateParams{
		Name:       req.Name,
		EntryFee:   req.EntryFee,
		MaxWinners: req.MaxWinners,
		EndsAtMs:   req.EndsAtMs,
		EvenSplit:  req.EvenSplit,
		AllWinners: req.AllWinners,
		Curve:      req.Curve,
	}
	if req.OrganizerRateBps != nil || req.OrganizerRatePercent != nil {
		rateBps, err := resolveRateBps(req.OrganizerRateBps, req.OrganizerRatePercent)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.OrganizerRateBps = &rateBps
	}
	if req.Commitment != nil {
		commitment, err := merkle.ParseHash(*req.Commitment)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		leaves, err := parseLeaves(req.CorrectLeaves)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.Commitment = &commitment
		p.CorrectLeaves = leaves
	}

	updated, err := s.svc.UpdateRound(r.Context(), id, organizer, p)
	if err != nil {
		s.writeServiceError(w, "update_round", err)
		return
	}
	metrics.RecordOperation("update_round", nil)
	writeJSON(w, http.StatusOK, s.toRoundDTO(updated))
}

type organizerRequest struct {
	Organizer string `json:"organizer"`
}

func (s *Server) startNowHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req organizerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.svc.StartNow(r.Context(), id, organizer)
	if err != nil {
		s.writeServiceError(w, "start_now", err)
		return
	}
	metrics.RecordOperation("start_now", nil)
	writeJSON(w, http.StatusOK, s.toRoundDTO(updated))
}

type donationRequest struct {
	Organizer string `json:"organizer"`
	Amount    uint64 `json:"amount"`
	Withdraw  bool   `json:"withdraw"`
}

func (s *Server) donationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req donationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := "add_donation"
	if req.Withdraw {
		op = "withdraw_donation"
		err = s.svc.WithdrawDonation(r.Context(), id, organizer, req.Amount)
	} else {
		err = s.svc.AddDonation(r.Context(), id, organizer, req.Amount)
	}
	if err != nil {
		s.writeServiceError(w, op, err)
		return
	}
	metrics.RecordOperation(op, nil)
	w.WriteHeader(http.StatusNoContent)
}

type holderRequest struct {
	Holder string `json:"holder"`
}

func (s *Server) joinHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req holderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := parsePubkey("holder", req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.svc.Join(r.Context(), id, holder)
	if err != nil {
		s.writeServiceError(w, "join", err)
		return
	}
	metrics.RecordOperation("join", nil)
	writeJSON(w, http.StatusCreated, toParticipantDTO(p))
}

type answerDTO struct {
	Position   uint32   `json:"position"`
	Answer     string   `json:"answer"`
	QuestionID string   `json:"questionId"`
	Proof      []string `json:"proof"`
}

type submitRequest struct {
	Holder     string      `json:"holder"`
	FinishTime int64       `json:"finishTime"`
	Answers    []answerDTO `json:"answers"`
}

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := parsePubkey("holder", req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answers := make([]merkle.Answer, len(req.Answers))
	for i, a := range req.Answers {
		proof, err := parseLeaves(a.Proof)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("answer %d: %v", i, err))
			return
		}
		answers[i] = merkle.Answer{
			Position:   a.Position,
			Answer:     a.Answer,
			QuestionID: a.QuestionID,
			Proof:      proof,
		}
	}

	p, err := s.svc.Submit(r.Context(), round.SubmitParams{
		RoundID:    id,
		Holder:     holder,
		Answers:    answers,
		FinishTime: req.FinishTime,
	})
	if err != nil {
		s.writeServiceError(w, "submit", err)
		return
	}
	metrics.RecordOperation("submit", nil)
	writeJSON(w, http.StatusOK, toParticipantDTO(p))
}

func (s *Server) settleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req organizerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.svc.Settle(r.Context(), id, organizer)
	if err != nil {
		s.writeServiceError(w, "settle", err)
		return
	}
	metrics.RecordOperation("settle", nil)
	metrics.SettledAmountTotal.WithLabelValues("treasury").Add(float64(st.TreasuryFee))
	metrics.SettledAmountTotal.WithLabelValues("organizer").Add(float64(st.OrganizerFee))
	metrics.SettledAmountTotal.WithLabelValues("prize_pool").Add(float64(st.PrizePool))
	if s.archiver != nil {
		go s.archiveSettlement(id, st)
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st))
}

// archiveSettlement lands the receipt in object storage off the request
// path; the settlement itself is already durable in Postgres, so a failed
// upload only logs.
func (s *Server) archiveSettlement(roundID int64, st round.Settlement) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rd, err := s.svc.GetRound(ctx, roundID)
	if err != nil {
		s.log.Error("server: failed to load round for receipt archive", "round_id", roundID, "error", err)
		return
	}
	if err := s.archiver.SettlementReceipt(ctx, rd, st); err != nil {
		s.log.Error("server: failed to archive settlement receipt", "round_id", roundID, "error", err)
	}
}

type declareWinnersRequest struct {
	Organizer string   `json:"organizer"`
	Holders   []string `json:"holders"`
}

func (s *Server) declareWinnersHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req declareWinnersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holders := make([]solana.PublicKey, len(req.Holders))
	for i, h := range req.Holders {
		if holders[i], err = parsePubkey("holder", h); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	winners, err := s.svc.DeclareWinners(r.Context(), id, organizer, holders)
	if err != nil {
		s.writeServiceError(w, "declare_winners", err)
		return
	}
	metrics.RecordOperation("declare_winners", nil)
	dtos := make([]winnerDTO, len(winners))
	for i, win := range winners {
		dtos[i] = toWinnerDTO(win)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

func (s *Server) claimHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req holderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := parsePubkey("holder", req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claimed, err := s.svc.Claim(r.Context(), id, holder)
	if err != nil {
		s.writeServiceError(w, "claim", err)
		return
	}
	metrics.RecordOperation("claim", nil)
	metrics.ClaimedAmountTotal.Add(float64(claimed.Share))
	writeJSON(w, http.StatusOK, toWinnerDTO(claimed))
}

func (s *Server) closeParticipantHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := pubkeyParam(r, "holder")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.svc.CloseParticipant(r.Context(), id, holder); err != nil {
		s.writeServiceError(w, "close_participant", err)
		return
	}
	metrics.RecordOperation("close_participant", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeVaultHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req organizerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	organizer, err := parsePubkey("organizer", req.Organizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	returned, err := s.svc.CloseVault(r.Context(), id, organizer)
	if err != nil {
		s.writeServiceError(w, "close_vault", err)
		return
	}
	metrics.RecordOperation("close_vault", nil)
	writeJSON(w, http.StatusOK, map[string]uint64{"returned": returned})
}

// ---- read handlers ----

func (s *Server) listRoundsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rounds, err := s.svc.ListRounds(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, "list_rounds", err)
		return
	}
	dtos := make([]roundDTO, len(rounds))
	for i, rd := range rounds {
		dtos[i] = s.toRoundDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) getRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rd, err := s.svc.GetRound(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get_round", err)
		return
	}
	writeJSON(w, http.StatusOK, s.toRoundDTO(rd))
}

func (s *Server) listParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	participants, err := s.svc.ListParticipants(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "list_participants", err)
		return
	}
	dtos := make([]participantDTO, len(participants))
	for i, p := range participants {
		dtos[i] = toParticipantDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) getParticipantHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := pubkeyParam(r, "holder")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.svc.GetParticipant(r.Context(), id, holder)
	if err != nil {
		s.writeServiceError(w, "get_participant", err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantDTO(p))
}

func (s *Server) listWinnersHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	winners, err := s.svc.ListWinners(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "list_winners", err)
		return
	}
	dtos := make([]winnerDTO, len(winners))
	for i, win := range winners {
		dtos[i] = toWinnerDTO(win)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) getSettlementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.GetSettlement(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get_settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st))
}

func (s *Server) getVaultHandler(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.svc.GetVault(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get_vault", err)
		return
	}
	writeJSON(w, http.StatusOK, vaultDTO{
		RoundID:       v.RoundID,
		Asset:         v.Asset.String(),
		Balance:       v.Balance,
		ReservedFloor: v.ReservedFloor,
		Closed:        v.Closed,
	})
}

// ---- protocol handlers ----

type initProtocolRequest struct {
	Operator            string  `json:"operator"`
	Treasury            string  `json:"treasury"`
	TreasuryRateBps     *uint16 `json:"treasuryRateBps,omitempty"`
	TreasuryRatePercent *uint16 `json:"treasuryRatePercent,omitempty"`
}

func (s *Server) initProtocolHandler(w http.ResponseWriter, r *http.Request) {
	var req initProtocolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parsePubkey("operator", req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	treasury, err := parsePubkey("treasury", req.Treasury)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rateBps, err := resolveRateBps(req.TreasuryRateBps, req.TreasuryRatePercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := protocol.Config{
		Operator:        operator,
		Treasury:        treasury,
		TreasuryRateBps: rateBps,
	}
	if err := protocol.Init(r.Context(), s.pool, cfg); err != nil {
		s.writeServiceError(w, "init_protocol", err)
		return
	}
	metrics.RecordOperation("init_protocol", nil)
	writeJSON(w, http.StatusCreated, protocolDTO{
		Operator:        cfg.Operator.String(),
		Treasury:        cfg.Treasury.String(),
		TreasuryRateBps: cfg.TreasuryRateBps,
	})
}

func (s *Server) getProtocolHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := protocol.Get(r.Context(), s.pool)
	if err != nil {
		s.writeServiceError(w, "get_protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, protocolDTO{
		Operator:        cfg.Operator.String(),
		Treasury:        cfg.Treasury.String(),
		TreasuryRateBps: cfg.TreasuryRateBps,
		Paused:          cfg.Paused,
	})
}

type setRateRequest struct {
	Operator            string  `json:"operator"`
	TreasuryRateBps     *uint16 `json:"treasuryRateBps,omitempty"`
	TreasuryRatePercent *uint16 `json:"treasuryRatePercent,omitempty"`
}

func (s *Server) setTreasuryRateHandler(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parsePubkey("operator", req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TreasuryRateBps == nil && req.TreasuryRatePercent == nil {
		writeError(w, http.StatusBadRequest, "treasury rate is required")
		return
	}
	rateBps, err := resolveRateBps(req.TreasuryRateBps, req.TreasuryRatePercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := protocol.SetTreasuryRate(r.Context(), s.pool, operator, rateBps); err != nil {
		s.writeServiceError(w, "set_treasury_rate", err)
		return
	}
	metrics.RecordOperation("set_treasury_rate", nil)
	w.WriteHeader(http.StatusNoContent)
}

type setPausedRequest struct {
	Operator string `json:"operator"`
	Paused   bool   `json:"paused"`
}

func (s *Server) setPausedHandler(w http.ResponseWriter, r *http.Request) {
	var req setPausedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parsePubkey("operator", req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := protocol.SetPaused(r.Context(), s.pool, operator, req.Paused); err != nil {
		s.writeServiceError(w, "set_paused", err)
		return
	}
	metrics.RecordOperation("set_paused", nil)
	w.WriteHeader(http.StatusNoContent)
}
