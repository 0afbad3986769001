// ABOUTME: Built-in curated question/SQL samples used to seed the example index.
// ABOUTME: Generic retail-analytics shapes usable as in-context examples for generation.

package examples

func builtinSamples() []Example {
	return []Example{
		{
			Question: "How many orders were placed each day in January 2023?",
			SQL: `SELECT DATE_FORMAT(create_time, '%Y-%m-%d') AS order_date,
       COUNT(*) AS order_count
FROM orders
WHERE create_time BETWEEN '2023-01-01' AND '2023-01-31'
GROUP BY order_date
ORDER BY order_date`,
			Explanation: "Groups orders by day and counts them over the requested period.",
			Tables:      []string{"orders"},
		},
		{
			Question: "What are the top 10 products by total sales amount and quantity?",
			SQL: `SELECT p.product_name,
       SUM(oi.price * oi.quantity) AS total_sales,
       SUM(oi.quantity) AS total_quantity
FROM order_items oi
JOIN products p ON oi.product_id = p.id
GROUP BY p.product_name
ORDER BY total_sales DESC
LIMIT 10`,
			Explanation: "Aggregates sales per product and returns the ten largest by revenue.",
			Tables:      []string{"order_items", "products"},
		},
		{
			Question: "Show each user's activity level over the past 30 days",
			SQL: `SELECT user_id,
       COUNT(DISTINCT DATE_FORMAT(activity_time, '%Y-%m-%d')) AS active_days,
       COUNT(*) AS total_activities
FROM user_activities
WHERE activity_time >= DATE_SUB(CURRENT_DATE(), INTERVAL 30 DAY)
GROUP BY user_id
ORDER BY active_days DESC, total_activities DESC`,
			Explanation: "Counts active days and total events per user in the last 30 days.",
			Tables:      []string{"user_activities"},
		},
		{
			Question: "Compare each region's sales this year against the same period last year with growth rate",
			SQL: `SELECT r.region_name,
       SUM(CASE WHEN YEAR(o.order_date) = YEAR(CURRENT_DATE()) THEN oi.amount ELSE 0 END) AS current_year_sales,
       SUM(CASE WHEN YEAR(o.order_date) = YEAR(CURRENT_DATE()) - 1 THEN oi.amount ELSE 0 END) AS previous_year_sales,
       (SUM(CASE WHEN YEAR(o.order_date) = YEAR(CURRENT_DATE()) THEN oi.amount ELSE 0 END) -
        SUM(CASE WHEN YEAR(o.order_date) = YEAR(CURRENT_DATE()) - 1 THEN oi.amount ELSE 0 END)) /
       NULLIF(SUM(CASE WHEN YEAR(o.order_date) = YEAR(CURRENT_DATE()) - 1 THEN oi.amount ELSE 0 END), 0) * 100 AS growth_rate
FROM orders o
JOIN order_items oi ON o.order_id = oi.order_id
JOIN stores s ON o.store_id = s.store_id
JOIN regions r ON s.region_id = r.region_id
WHERE YEAR(o.order_date) IN (YEAR(CURRENT_DATE()), YEAR(CURRENT_DATE()) - 1)
  AND MONTH(o.order_date) = MONTH(CURRENT_DATE())
GROUP BY r.region_name
ORDER BY growth_rate DESC`,
			Explanation: "Year-over-year regional sales comparison using conditional aggregation.",
			Tables:      []string{"orders", "order_items", "stores", "regions"},
		},
		{
			Question: "Analyze purchase frequency and average order value per customer",
			SQL: `SELECT c.customer_id,
       c.customer_name,
       COUNT(o.order_id) AS order_count,
       DATEDIFF(MAX(o.order_date), MIN(o.order_date)) / COUNT(o.order_id) AS avg_days_between_orders,
       AVG(o.total_amount) AS avg_order_amount
FROM customers c
JOIN orders o ON c.customer_id = o.customer_id
WHERE o.order_date >= DATE_SUB(CURRENT_DATE(), INTERVAL 1 YEAR)
GROUP BY c.customer_id, c.customer_name
HAVING COUNT(o.order_id) > 1
ORDER BY avg_days_between_orders`,
			Explanation: "Order count, inter-order interval, and average basket per repeat customer.",
			Tables:      []string{"customers", "orders"},
		},
	}
}
