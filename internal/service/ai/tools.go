package ai

import "github.com/cloudwego/eino/schema"

const (
	ToolViewBalance = "view_balance"
	ToolViewOrders  = "view_orders"
	ToolMakeOrder   = "make_order"
)

func emailParam() *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type: schema.String,
		Desc: "Email of the user; ignored when row-level security is enabled",
	}
}

// ShopTools declares the backend operations the model may call.
func ShopTools() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: ToolViewBalance,
			Desc: "Get current user's balance",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"email": emailParam(),
			}),
		},
		{
			Name: ToolViewOrders,
			Desc: "Get list of orders for current user",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"email": emailParam(),
			}),
		},
		{
			Name: ToolMakeOrder,
			Desc: "Create a new order",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"item": {
					Type:     schema.String,
					Desc:     "Name of the item to order",
					Required: true,
				},
				"quantity": {
					Type:     schema.Integer,
					Desc:     "Number of units, at least 1",
					Required: true,
				},
				"price": {
					Type:     schema.Number,
					Desc:     "Price per unit",
					Required: true,
				},
				"email": emailParam(),
			}),
		},
	}
}
