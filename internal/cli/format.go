package cli

import (
	"fmt"
	"sort"
	"strconv"

	"extended-cli/internal/types"
)

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

func sortByVolume(markets []types.Market) {
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Stats.DailyVolume.GreaterThan(markets[j].Stats.DailyVolume)
	})
}
