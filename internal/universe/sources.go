package universe

// sources registers every universe id this resolver knows how to scrape,
// plus a small bundled snapshot to fall back on when scraping fails.
// Snapshots are intentionally partial (the largest constituents by weight)
// — they exist so an offline run still produces a plausible universe, not
// as a substitute for the live table.
var sources = map[string]universeSource{
	"sp500": {
		url:      "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies",
		selector: "#constituents tbody tr",
		column:   0,
		fallback: sp500Fallback,
	},
	"nasdaq100": {
		url:      "https://en.wikipedia.org/wiki/Nasdaq-100",
		selector: "#constituents tbody tr",
		column:   1,
		fallback: nasdaq100Fallback,
	},
	"dow30": {
		url:      "https://en.wikipedia.org/wiki/Dow_Jones_Industrial_Average",
		selector: "#constituents tbody tr",
		column:   2,
		fallback: dow30Fallback,
	},
}

var sp500Fallback = []string{
	"AAPL", "MSFT", "AMZN", "NVDA", "GOOGL", "GOOG", "META", "BRK-B", "TSLA", "UNH",
	"JNJ", "V", "XOM", "JPM", "PG", "MA", "HD", "CVX", "MRK", "ABBV",
	"LLY", "PEP", "KO", "COST", "AVGO", "WMT", "BAC", "PFE", "TMO", "CSCO",
}

var nasdaq100Fallback = []string{
	"AAPL", "MSFT", "AMZN", "NVDA", "GOOGL", "GOOG", "META", "TSLA", "AVGO", "PEP",
	"COST", "ADBE", "CSCO", "NFLX", "AMD", "INTC", "QCOM", "TXN", "INTU", "AMGN",
}

var dow30Fallback = []string{
	"AAPL", "MSFT", "UNH", "GS", "HD", "CAT", "MCD", "V", "CRM", "AMGN",
	"BA", "HON", "TRV", "JPM", "AXP", "IBM", "PG", "JNJ", "CVX", "MRK",
	"WMT", "DIS", "NKE", "MMM", "KO", "CSCO", "VZ", "INTC", "DOW", "WBA",
}
