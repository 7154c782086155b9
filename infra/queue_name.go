package infra

// ExchangeName 定義 RabbitMQ exchange 名稱
type ExchangeName string

const (
	// ExchangeDriver 本服務發佈司機相關事件
	ExchangeDriver ExchangeName = "driver"
	// ExchangeNotification 即時通知服務
	ExchangeNotification ExchangeName = "notification"
	// ExchangePayment 金流服務
	ExchangePayment ExchangeName = "payment"
)

func (e ExchangeName) String() string {
	return string(e)
}

// QueueName 定義 RabbitMQ 隊列名稱的枚舉類型
type QueueName string

const (
	// QueueNameDriver 司機趟次與收入事件
	QueueNameDriver QueueName = "driver_queue"
)

// String 實現 Stringer 接口，返回隊列名稱字符串
func (qn QueueName) String() string {
	return string(qn)
}

// QueueBinding 隊列與 exchange 的綁定
type QueueBinding struct {
	Queue      QueueName
	Exchange   ExchangeName
	RoutingKey string
}

// GetAllExchangeNames 返回所有需宣告的 topic exchange
func GetAllExchangeNames() []ExchangeName {
	return []ExchangeName{
		ExchangeDriver,
		ExchangeNotification,
		ExchangePayment,
	}
}

// GetAllQueueNames 返回所有定義的隊列名稱
func GetAllQueueNames() []QueueName {
	return []QueueName{
		QueueNameDriver,
	}
}

// GetAllQueueBindings 返回所有隊列綁定
func GetAllQueueBindings() []QueueBinding {
	return []QueueBinding{
		{Queue: QueueNameDriver, Exchange: ExchangeNotification, RoutingKey: "realtime-driver.#"},
		{Queue: QueueNameDriver, Exchange: ExchangePayment, RoutingKey: "payment-driver.#"},
	}
}
