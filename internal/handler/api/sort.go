package api

import (
	"sort"

	"MarketHub/internal/domain/models"
)

func sortStatuses(rows []models.FeedStatus) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
