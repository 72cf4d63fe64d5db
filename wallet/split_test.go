package wallet

import "testing"

func confirmedToken(localID, coinID, amount string) Token {
	blob := []byte(`{"genesis":{"tokenId":"` + localID + `"},"state":{"hash":"h-` + localID + `"},"coins":[["` + coinID + `","` + amount + `"]]}`)
	return Token{
		LocalID: localID,
		CoinID:  coinID,
		Amount:  amount,
		Status:  StatusConfirmed,
		Payload: TokenPayload{Finalized: blob},
	}
}

func TestComputeSplitExactSingleMatch(t *testing.T) {
	tokens := []Token{confirmedToken("t1", "coin", "100")}
	plan, ok := ComputeSplit(tokens, "100", "coin")
	if !ok || plan.RequiresSplit || len(plan.Direct) != 1 || plan.Direct[0].LocalID != "t1" {
		t.Fatalf("unexpected plan: %+v ok=%v", plan, ok)
	}
}

func TestComputeSplitExactCombination(t *testing.T) {
	tokens := []Token{
		confirmedToken("t1", "coin", "60"),
		confirmedToken("t2", "coin", "40"),
		confirmedToken("t3", "coin", "5"),
	}
	plan, ok := ComputeSplit(tokens, "100", "coin")
	if !ok || plan.RequiresSplit {
		t.Fatalf("expected exact combination without split, got %+v", plan)
	}
	if len(plan.Direct) != 2 {
		t.Fatalf("expected 2 tokens in combination, got %d", len(plan.Direct))
	}
}

func TestComputeSplitRequiresSplit(t *testing.T) {
	tokens := []Token{confirmedToken("t1", "coin", "150")}
	plan, ok := ComputeSplit(tokens, "100", "coin")
	if !ok || !plan.RequiresSplit {
		t.Fatalf("expected a split plan, got %+v ok=%v", plan, ok)
	}
	if plan.TokenToSplit.LocalID != "t1" || plan.SplitAmount != "100" || plan.RemainderAmount != "50" {
		t.Fatalf("unexpected split breakdown: %+v", plan)
	}
}

func TestComputeSplitInsufficientFunds(t *testing.T) {
	tokens := []Token{confirmedToken("t1", "coin", "10")}
	_, ok := ComputeSplit(tokens, "100", "coin")
	if ok {
		t.Fatal("expected insufficient-funds failure")
	}
}

func TestComputeSplitZeroTarget(t *testing.T) {
	tokens := []Token{confirmedToken("t1", "coin", "10")}
	plan, ok := ComputeSplit(tokens, "0", "coin")
	if !ok || plan.RequiresSplit || len(plan.Direct) != 0 {
		t.Fatalf("expected trivial zero-amount plan, got %+v", plan)
	}
}

func TestComputeSplitIgnoresWrongCoinAndNonConfirmed(t *testing.T) {
	tokens := []Token{
		confirmedToken("t1", "other-coin", "1000"),
		{LocalID: "t2", CoinID: "coin", Amount: "1000", Status: StatusTransferring, Payload: TokenPayload{Finalized: []byte(`{"coins":[["coin","1000"]]}`)}},
	}
	_, ok := ComputeSplit(tokens, "100", "coin")
	if ok {
		t.Fatal("expected no eligible funds from wrong coin or non-confirmed tokens")
	}
}
