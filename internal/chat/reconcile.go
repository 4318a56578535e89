package chat

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/soyeahso/koko/internal/domain"
)

var emphasisRe = regexp.MustCompile(`\*{1,2}`)

// priceWindow is how many characters may sit between an item word and the
// dollar amount on the same line.
const priceWindow = 60

// Reconcile fills prices that are still unknown from dollar amounts the
// reply mentions next to the item's name, e.g. "Bread: $2.60". Known prices
// are never overwritten. The input list is not modified.
func Reconcile(list []domain.ShoppingListItem, reply string) []domain.ShoppingListItem {
	out := domain.CloneList(list)
	if len(out) == 0 || reply == "" {
		return out
	}
	clean := emphasisRe.ReplaceAllString(reply, "")

	for i := range out {
		if out[i].HasPrice() {
			continue
		}
		for _, word := range significantWords(out[i].Name) {
			if price, ok := findPrice(clean, word); ok {
				out[i].Price = price
				break
			}
		}
	}
	return out
}

// significantWords returns the words of name longer than two characters,
// or every word when none are.
func significantWords(name string) []string {
	words := strings.Fields(name)
	var sig []string
	for _, w := range words {
		if utf8.RuneCountInString(w) > 2 {
			sig = append(sig, w)
		}
	}
	if len(sig) == 0 {
		return words
	}
	return sig
}

func findPrice(text, word string) (float64, bool) {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(word) + `[^$\n]{0,` + strconv.Itoa(priceWindow) + `}\$(\d+\.?\d*)`)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
