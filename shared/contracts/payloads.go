package contracts

import "time"

// Order status values.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type OrderItem struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Price    Money  `json:"price"`
}

// Order is the full order document carried by ORDER_CREATED and ORDER_UPDATED.
type Order struct {
	ID              string      `json:"_id"`
	User            string      `json:"user"`
	Items           []OrderItem `json:"items"`
	Status          string      `json:"status"`
	TotalPrice      Money       `json:"totalPrice"`
	ShippingAddress Address     `json:"shippingAddress"`
	PaymentMethod   string      `json:"paymentMethod,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt,omitempty"`
}

// Product is the full product document carried by product lifecycle events.
type Product struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       Money     `json:"price"`
	Seller      string    `json:"seller"`
	Stock       int       `json:"stock"`
	Images      []string  `json:"images,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DocumentRef is the payload of cancel/delete events.
type DocumentRef struct {
	ID string `json:"_id"`
}

type FullName struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type UserCreated struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName FullName `json:"fullName"`
}

type PaymentCompleted struct {
	Username  string  `json:"username"`
	Email     string  `json:"email,omitempty"`
	PaymentID string  `json:"paymentId"`
	OrderID   string  `json:"orderId"`
	UserID    string  `json:"userId"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type PaymentFailed struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
}

// ProductLive notifies a seller that their product was published.
type ProductLive struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	Username  string `json:"username"`
}
