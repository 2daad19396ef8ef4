package models

import "time"

// Collection names, also used as the REST path segment under /admin.
const (
	KindCategories    = "categories"
	KindCoupons       = "coupons"
	KindNotifications = "notifications"
	KindOrders        = "orders"
	KindProducts      = "products"
	KindUsers         = "users"
)

type Category struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ProductCount int    `json:"productCount"`
}

func (c Category) EntityID() string { return c.ID }

func (c Category) WithEntityID(id string) Category {
	c.ID = id
	return c
}

func (c Category) CompleteFrom(optimistic Category) Category {
	if c.Name == "" {
		c.Name = optimistic.Name
	}
	if c.Description == "" {
		c.Description = optimistic.Description
	}
	return c
}

type Coupon struct {
	ID              string     `json:"id,omitempty"`
	Code            string     `json:"code"`
	DiscountPercent float64    `json:"discountPercent"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Active          bool       `json:"active"`
}

func (c Coupon) EntityID() string { return c.ID }

func (c Coupon) WithEntityID(id string) Coupon {
	c.ID = id
	return c
}

func (c Coupon) CompleteFrom(optimistic Coupon) Coupon {
	if c.Code == "" {
		c.Code = optimistic.Code
	}
	if c.DiscountPercent == 0 {
		c.DiscountPercent = optimistic.DiscountPercent
	}
	if c.ExpiresAt == nil {
		c.ExpiresAt = optimistic.ExpiresAt
	}
	return c
}

type Notification struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Audience  string    `json:"audience,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) EntityID() string { return n.ID }

func (n Notification) WithEntityID(id string) Notification {
	n.ID = id
	return n
}

func (n Notification) CompleteFrom(optimistic Notification) Notification {
	if n.Title == "" {
		n.Title = optimistic.Title
	}
	if n.Message == "" {
		n.Message = optimistic.Message
	}
	if n.Audience == "" {
		n.Audience = optimistic.Audience
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = optimistic.CreatedAt
	}
	return n
}

type Order struct {
	ID        string    `json:"id,omitempty"`
	Customer  string    `json:"customer"`
	Total     float64   `json:"total"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (o Order) EntityID() string { return o.ID }

func (o Order) WithEntityID(id string) Order {
	o.ID = id
	return o
}

func (o Order) CompleteFrom(optimistic Order) Order {
	if o.Customer == "" {
		o.Customer = optimistic.Customer
	}
	if o.Status == "" {
		o.Status = optimistic.Status
	}
	if o.Total == 0 {
		o.Total = optimistic.Total
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = optimistic.CreatedAt
	}
	return o
}

type Product struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Category string  `json:"category,omitempty"`
}

func (p Product) EntityID() string { return p.ID }

func (p Product) WithEntityID(id string) Product {
	p.ID = id
	return p
}

func (p Product) CompleteFrom(optimistic Product) Product {
	if p.Name == "" {
		p.Name = optimistic.Name
	}
	if p.Price == 0 {
		p.Price = optimistic.Price
	}
	if p.Category == "" {
		p.Category = optimistic.Category
	}
	return p
}

type User struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) EntityID() string { return u.ID }

func (u User) WithEntityID(id string) User {
	u.ID = id
	return u
}

func (u User) CompleteFrom(optimistic User) User {
	if u.Name == "" {
		u.Name = optimistic.Name
	}
	if u.Email == "" {
		u.Email = optimistic.Email
	}
	if u.Role == "" {
		u.Role = optimistic.Role
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = optimistic.CreatedAt
	}
	return u
}

var (
	_ Entity[Category]        = Category{}
	_ Completer[Category]     = Category{}
	_ Entity[Coupon]          = Coupon{}
	_ Completer[Coupon]       = Coupon{}
	_ Entity[Notification]    = Notification{}
	_ Completer[Notification] = Notification{}
	_ Entity[Order]           = Order{}
	_ Completer[Order]        = Order{}
	_ Entity[Product]         = Product{}
	_ Completer[Product]      = Product{}
	_ Entity[User]            = User{}
	_ Completer[User]         = User{}
)
