package gate

const (
	// Gate.io API v4 基础 URL
	GateBaseURL = "https://api.gateio.ws/api/v4"

	// 现货接口路径（相对 GateBaseURL）
	PathServerTime  = "/spot/time"
	PathTickers     = "/spot/tickers"
	PathOrderBook   = "/spot/order_book"
	PathCandles     = "/spot/candlesticks"
	PathAccounts    = "/spot/accounts"
	PathOrders      = "/spot/orders"
	PathOpenOrders  = "/spot/open_orders"
	PathMyTrades    = "/spot/my_trades"
	orderPathFormat = "/spot/orders/%s"

	// 订单 text 字段前缀（Gate 要求以 t- 开头，总长不超过 28）
	GateChannelID = "t-tg"
)
