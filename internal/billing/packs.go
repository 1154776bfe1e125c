package billing

import "sort"

// Pack is a one-off credit bundle sold through Checkout.
type Pack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	PriceCents int64  `json:"priceCents"`
}

var packs = map[string]Pack{
	"basic-pack":   {ID: "basic-pack", Name: "Basic Pack", Credits: 25, PriceCents: 499},
	"hobby-pack":   {ID: "hobby-pack", Name: "Hobby Pack", Credits: 50, PriceCents: 999},
	"premium-pack": {ID: "premium-pack", Name: "Premium Pack", Credits: 100, PriceCents: 1999},
}

func LookupPack(id string) (Pack, bool) {
	p, ok := packs[id]
	return p, ok
}

// PriceForCredits returns the price of the pack that grants credits, used
// when reporting revenue from ledger rows.
func PriceForCredits(credits int) int64 {
	for _, p := range packs {
		if p.Credits == credits {
			return p.PriceCents
		}
	}
	return 0
}

// Packs lists every pack, smallest first.
func Packs() []Pack {
	out := make([]Pack, 0, len(packs))
	for _, p := range packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
