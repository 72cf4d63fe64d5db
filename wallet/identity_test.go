package wallet

import "testing"

func TestExtractGenesisID(t *testing.T) {
	cases := []struct {
		name string
		blob string
		want string
		ok   bool
	}{
		{"primary", `{"genesis":{"tokenId":"tok-1"}}`, "tok-1", true},
		{"altGenesis", `{"genesis":{"id":"tok-2"}}`, "tok-2", true},
		{"flat", `{"tokenId":"tok-3"}`, "tok-3", true},
		{"missing", `{"foo":"bar"}`, "", false},
		{"malformed", `not json`, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := ExtractGenesisID(NewTextBlob([]byte(c.blob)))
			if ok != c.ok || got != c.want {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, c.want, c.ok)
			}
		})
	}
}

func TestExtractStateHash(t *testing.T) {
	cases := []struct {
		name string
		blob string
		want string
	}{
		{"primary", `{"state":{"hash":"h1"}}`, "h1"},
		{"predicateNested", `{"state":{"predicate":{"hash":"h2"}}}`, "h2"},
		{"unlockPredicateNested", `{"state":{"unlockPredicate":{"hash":"h3"}}}`, "h3"},
		{"flatTopLevel", `{"stateHash":"h4"}`, "h4"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := ExtractStateHash(NewTextBlob([]byte(c.blob)))
			if !ok || got != c.want {
				t.Fatalf("got (%q, %v), want %q", got, ok, c.want)
			}
		})
	}
}

func TestParseTokenInfoStructuredArrayCoins(t *testing.T) {
	blob := `{"coins":[["coin-a","1000000000000000000"]],"tokenId":"tok-1"}`
	info, ok := ParseTokenInfo(NewTextBlob([]byte(blob)))
	if !ok {
		t.Fatal("expected parse success")
	}
	if info.CoinID != "coin-a" || info.Amount != "1000000000000000000" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.TokenID != "tok-1" {
		t.Fatalf("expected tokenId propagated, got %q", info.TokenID)
	}
}

func TestParseTokenInfoMapCoins(t *testing.T) {
	blob := `{"coins":{"coin-b":"42"}}`
	info, ok := ParseTokenInfo(NewTextBlob([]byte(blob)))
	if !ok {
		t.Fatal("expected parse success")
	}
	if info.CoinID != "coin-b" || info.Amount != "42" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestParseTokenInfoFallsBackToGenesisSection(t *testing.T) {
	blob := `{"genesis":{"coins":[["coin-c","5"]]}}`
	info, ok := ParseTokenInfo(NewTextBlob([]byte(blob)))
	if !ok || info.CoinID != "coin-c" || info.Amount != "5" {
		t.Fatalf("unexpected result: %+v ok=%v", info, ok)
	}
}

func TestParseTokenInfoUnrecognizedLayout(t *testing.T) {
	if _, ok := ParseTokenInfo(NewTextBlob([]byte(`{"nothing":"here"}`))); ok {
		t.Fatal("expected failure for unrecognizable layout")
	}
	if _, ok := ParseTokenInfo(NewTextBlob(nil)); ok {
		t.Fatal("expected failure for empty blob")
	}
}

func TestContentIDStable(t *testing.T) {
	a, err := ContentID("genesis-1")
	if err != nil {
		t.Fatalf("ContentID: %v", err)
	}
	b, err := ContentID("genesis-1")
	if err != nil {
		t.Fatalf("ContentID: %v", err)
	}
	if a.String() != b.String() {
		t.Fatalf("expected deterministic CID, got %s vs %s", a, b)
	}
	other, _ := ContentID("genesis-2")
	if a.String() == other.String() {
		t.Fatal("expected distinct genesis ids to yield distinct CIDs")
	}
}
